package world

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/oilytop/server/internal/data"
)

var (
	// ErrDuplicateName reports a create with a name already held by an
	// active player. Departed players' names may be reused.
	ErrDuplicateName = errors.New("player name already in use")

	// ErrInvalidName reports a name that is empty after normalization.
	ErrInvalidName = errors.New("invalid player name")

	// ErrNotFound reports an operation on a player id not in the store.
	ErrNotFound = errors.New("player not found")
)

// Player is the canonical record for one in-world player. The store owns it;
// callers only ever see value copies. Direction is in degrees, [0, 360).
type Player struct {
	ID        int32
	Name      string
	Level     int
	Exp       int64
	X         float64
	Y         float64
	Direction float64
}

// entry pairs a player record with its own lock, so that a position write on
// one player never blocks a read touching another.
type entry struct {
	mu sync.Mutex
	p  Player
}

// Config bounds the world and the accepted player names.
type Config struct {
	Width      float64
	Height     float64
	MaxNameLen int // in runes, after normalization
}

// Store is the authoritative in-memory registry of all active players.
// Safe under arbitrary concurrent callers.
type Store struct {
	mu     sync.RWMutex
	byID   map[int32]*entry
	byName map[string]int32
	order  []int32 // insertion order, for deterministic snapshots
	nextID int32
	rng    *rand.Rand // guarded by mu (only used inside CreatePlayer)

	cfg   Config
	spawn *data.SpawnTable
}

// NewStore creates an empty store. A nil spawn table falls back to the
// built-in default area.
func NewStore(cfg Config, spawn *data.SpawnTable) *Store {
	if spawn == nil {
		spawn = data.DefaultSpawnTable()
	}
	return &Store{
		byID:   make(map[int32]*entry),
		byName: make(map[string]int32),
		cfg:    cfg,
		spawn:  spawn,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NormalizeName trims and NFC-normalizes a raw player name and clamps it to
// the configured rune length. Uniqueness checks run on the normalized form.
func (s *Store) NormalizeName(raw string) string {
	name := norm.NFC.String(strings.TrimSpace(raw))
	if s.cfg.MaxNameLen > 0 {
		runes := []rune(name)
		if len(runes) > s.cfg.MaxNameLen {
			name = string(runes[:s.cfg.MaxNameLen])
		}
	}
	return name
}

// CreatePlayer assigns the next id, validates the name, places the player at
// a randomized spawn position and inserts it atomically. Fails with
// ErrDuplicateName if the name collides with an active player.
func (s *Store) CreatePlayer(rawName string) (Player, error) {
	name := s.NormalizeName(rawName)
	if name == "" {
		return Player{}, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[name]; taken {
		return Player{}, ErrDuplicateName
	}

	s.nextID++
	x, y := s.spawn.Pick(s.rng)
	e := &entry{p: Player{
		ID:    s.nextID,
		Name:  name,
		Level: 1,
		X:     x,
		Y:     y,
	}}
	s.byID[e.p.ID] = e
	s.byName[name] = e.p.ID
	s.order = append(s.order, e.p.ID)
	return e.p, nil
}

// Get returns a copy of the player, or ErrNotFound.
func (s *Store) Get(id int32) (Player, error) {
	s.mu.RLock()
	e := s.byID[id]
	s.mu.RUnlock()
	if e == nil {
		return Player{}, ErrNotFound
	}
	e.mu.Lock()
	p := e.p
	e.mu.Unlock()
	return p, nil
}

// UpdatePosition writes a player's position, clamped to the world bounds.
// direction is optional; when non-nil it is normalized into [0, 360).
// Returns ErrNotFound if the id is absent — which never happens for a valid
// owning session, since removal and update are serialized per player.
func (s *Store) UpdatePosition(id int32, x, y float64, direction *float64) error {
	s.mu.RLock()
	e := s.byID[id]
	s.mu.RUnlock()
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	e.p.X = clamp(x, 0, s.cfg.Width)
	e.p.Y = clamp(y, 0, s.cfg.Height)
	if direction != nil {
		e.p.Direction = normalizeDegrees(*direction)
	}
	e.mu.Unlock()
	return nil
}

// SetProgress restores persisted level and experience onto an active
// player. Returns ErrNotFound if the id is absent.
func (s *Store) SetProgress(id int32, level int, exp int64) error {
	s.mu.RLock()
	e := s.byID[id]
	s.mu.RUnlock()
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	if level >= 1 {
		e.p.Level = level
	}
	if exp >= 0 {
		e.p.Exp = exp
	}
	e.mu.Unlock()
	return nil
}

// Remove takes a player out of the store, freeing its name for reuse.
// Returns the final record, or ErrNotFound.
func (s *Store) Remove(id int32) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.byID[id]
	if e == nil {
		return Player{}, ErrNotFound
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	e.mu.Lock()
	p := e.p
	e.mu.Unlock()
	delete(s.byName, p.Name)
	return p, nil
}

// Snapshot returns an internally consistent, insertion-ordered copy of all
// players. Writers are only ever blocked for a single entry copy.
func (s *Store) Snapshot() []Player {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		if e := s.byID[id]; e != nil {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	out := make([]Player, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.p)
		e.mu.Unlock()
	}
	return out
}

// Count returns the number of active players.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func clamp(v, lo, hi float64) float64 {
	if hi <= lo {
		return v
	}
	return math.Min(math.Max(v, lo), hi)
}

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
