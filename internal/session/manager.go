package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oilytop/server/internal/broadcast"
	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/protocol"
	"github.com/oilytop/server/internal/world"
)

var (
	// ErrAlreadyBound reports a second bind attempt on a session.
	ErrAlreadyBound = errors.New("session already bound to a player")

	// ErrSessionClosed reports a bind on a session a terminate already
	// drove out of Connecting. The caller must roll its player back.
	ErrSessionClosed = errors.New("session is closing or closed")
)

// PlayerSaver receives fire-and-forget save requests for departing players.
// Implemented by persist.Saver; nil when running memory-only.
type PlayerSaver interface {
	Save(p world.Player)
}

// Config holds session lifecycle settings.
type Config struct {
	HeartbeatTimeout time.Duration // terminate after this much inbound silence
	SweepInterval    time.Duration // how often the liveness sweep runs
}

// Manager owns the registry of live sessions and drives the per-session
// lifecycle: Connecting → Active → Closing → Closed. It implements
// net.ConnHandler, so the transport listener reports opens, frames and
// closes directly to it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uint64]*gamenet.Session

	store    *world.Store
	engine   *broadcast.Engine
	saver    PlayerSaver
	dispatch func(*gamenet.Session, []byte)

	cfg Config
	log *zap.Logger
}

func NewManager(store *world.Store, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[uint64]*gamenet.Session),
		store:    store,
		cfg:      cfg,
		log:      log,
	}
}

// SetBroadcast wires the broadcast engine. The engine is built after the
// manager (it needs the manager as its session source), so this completes
// the cycle at startup.
func (m *Manager) SetBroadcast(e *broadcast.Engine) {
	m.engine = e
	e.SetTerminator(m.Terminate)
}

// SetDispatcher installs the inbound frame dispatcher.
func (m *Manager) SetDispatcher(fn func(*gamenet.Session, []byte)) {
	m.dispatch = fn
}

// SetSaver installs the optional player store collaborator.
func (m *Manager) SetSaver(s PlayerSaver) {
	m.saver = s
}

// HandleOpen registers a freshly upgraded connection (Connecting state).
func (m *Manager) HandleOpen(s *gamenet.Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// HandleFrame forwards an inbound frame to the dispatcher. Runs on the
// session's read goroutine; liveness was already refreshed by the read pump.
func (m *Manager) HandleFrame(s *gamenet.Session, frame []byte) {
	if m.dispatch != nil {
		m.dispatch(s, frame)
	}
}

// HandleClose runs the termination path when the transport reports closure.
func (m *Manager) HandleClose(s *gamenet.Session) {
	m.Terminate(s)
}

// Bind transitions a Connecting session to Active, bound to the player id.
// Fails with ErrAlreadyBound if the session is already bound, and with
// ErrSessionClosed if a terminate won the race and the session is no
// longer Connecting.
func (m *Manager) Bind(s *gamenet.Session, playerID int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.PlayerID() != 0 {
		return ErrAlreadyBound
	}

	// The id goes in before the state flips so a terminate that fires the
	// instant we turn Active still sees the binding and removes the player.
	s.SetPlayerID(playerID)
	if !s.MarkActive() {
		s.SetPlayerID(0)
		return ErrSessionClosed
	}
	return nil
}

// Terminate drives a session to Closed: removes the bound player from the
// world store exactly once, broadcasts PlayerLeave, queues a final save,
// and closes the transport. Idempotent; concurrent calls for the same
// session collapse to one effect.
func (m *Manager) Terminate(s *gamenet.Session) {
	if !s.MarkClosing() {
		return
	}

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if pid := s.PlayerID(); pid != 0 {
		if p, err := m.store.Remove(pid); err == nil {
			m.log.Info(fmt.Sprintf("玩家離線  session=%d  玩家=%s(%d)", s.ID, p.Name, p.ID))
			if m.engine != nil {
				m.engine.PlayerLeave(p.ID)
			}
			if m.saver != nil {
				m.saver.Save(p)
			}
		}
	}

	s.Close()
	s.SetState(protocol.StateClosed)
}

// ActiveSessions returns the current fan-out target set.
func (m *Manager) ActiveSessions() []*gamenet.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*gamenet.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.State() == protocol.StateActive {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of registered sessions in any live state.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep terminates every session whose last inbound frame is older than the
// heartbeat timeout. Returns the number of sessions terminated.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.RLock()
	stale := make([]*gamenet.Session, 0)
	for _, s := range m.sessions {
		if now.Sub(s.LastSeen()) > m.cfg.HeartbeatTimeout {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		m.log.Warn("心跳逾時，斷開連線",
			zap.Uint64("session", s.ID),
			zap.Time("last_seen", s.LastSeen()),
		)
		m.Terminate(s)
	}
	return len(stale)
}

// SweepLoop runs the periodic liveness sweep until ctx is cancelled.
func (m *Manager) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			m.Sweep(now)
		case <-ctx.Done():
			return
		}
	}
}

// TerminateAll closes every session through the normal termination path.
// Used at shutdown; safe concurrently with per-connection activity.
func (m *Manager) TerminateAll() {
	m.mu.RLock()
	all := make([]*gamenet.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		m.Terminate(s)
	}
}
