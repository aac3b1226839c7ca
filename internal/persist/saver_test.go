package persist

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oilytop/server/internal/world"
)

type fakeWriter struct {
	mu   sync.Mutex
	rows []PlayerRow
}

func (f *fakeWriter) Save(_ context.Context, p *PlayerRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *p)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func TestSaverDrainsQueueBeforeStopping(t *testing.T) {
	w := &fakeWriter{}
	s := NewSaver(w, 8, zap.NewNop())

	s.Save(world.Player{Name: "Hero", Level: 3, Exp: 500})
	s.SaveAll([]world.Player{{Name: "Mage"}, {Name: "Rogue"}})
	s.Close()

	require.Equal(t, 3, w.count())
	w.mu.Lock()
	assert.Equal(t, "Hero", w.rows[0].Name)
	assert.Equal(t, 3, w.rows[0].Level)
	w.mu.Unlock()
}

func TestSaveAfterCloseDropped(t *testing.T) {
	w := &fakeWriter{}
	s := NewSaver(w, 4, zap.NewNop())
	s.Close()

	require.NotPanics(t, func() {
		s.Save(world.Player{Name: "Hero"})
	})
	assert.Equal(t, 0, w.count())
}

func TestCloseIdempotent(t *testing.T) {
	w := &fakeWriter{}
	s := NewSaver(w, 4, zap.NewNop())
	s.Close()
	require.NotPanics(t, s.Close)
}

func TestSaveRacingClose(t *testing.T) {
	w := &fakeWriter{}
	s := NewSaver(w, 2, zap.NewNop())

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				s.Save(world.Player{Name: "p"})
			}
		}()
	}
	close(start)
	s.Close()
	wg.Wait()
	// every Save either landed before the close or was dropped; none panicked
	assert.LessOrEqual(t, w.count(), 8*50)
}
