package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oilytop/server/internal/world"
)

// playerWriter is the repo surface the saver drains into. An interface so
// tests can swap in a fake without a database.
type playerWriter interface {
	Save(ctx context.Context, p *PlayerRow) error
}

// Saver makes player saves fire-and-forget: callers enqueue and return
// immediately; a single background goroutine drains the queue against the
// database. A slow or unavailable database never blocks gameplay — when the
// queue is full the save is dropped with a log.
type Saver struct {
	repo  playerWriter
	queue chan world.Player
	done  chan struct{}
	log   *zap.Logger

	mu     sync.Mutex // guards closed and the queue send in Save
	closed bool
}

func NewSaver(repo playerWriter, queueSize int, log *zap.Logger) *Saver {
	s := &Saver{
		repo:  repo,
		queue: make(chan world.Player, queueSize),
		done:  make(chan struct{}),
		log:   log,
	}
	go s.run()
	return s
}

// Save queues one player record. Never blocks. Saves arriving during or
// after Close are dropped; late Terminate calls race shutdown, and a
// dropped final save beats a crash.
func (s *Saver) Save(p world.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Warn("存檔服務已關閉，丟棄本次存檔", zap.String("player", p.Name))
		return
	}
	select {
	case s.queue <- p:
	default:
		s.log.Warn("存檔佇列已滿，丟棄本次存檔", zap.String("player", p.Name))
	}
}

// SaveAll queues a whole snapshot, e.g. a periodic checkpoint.
func (s *Saver) SaveAll(players []world.Player) {
	for _, p := range players {
		s.Save(p)
	}
}

// Close drains what is already queued, then stops the worker. Idempotent.
// The closed flag flips under the same mutex Save holds across its send,
// so no send can hit the closed channel.
func (s *Saver) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	<-s.done
}

func (s *Saver) run() {
	defer close(s.done)
	for p := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.repo.Save(ctx, &PlayerRow{
			Name:      p.Name,
			Level:     p.Level,
			Exp:       p.Exp,
			X:         p.X,
			Y:         p.Y,
			Direction: p.Direction,
		})
		cancel()
		if err != nil {
			s.log.Warn("玩家存檔失敗", zap.String("player", p.Name), zap.Error(err))
		}
	}
}
