package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oilytop/server/internal/broadcast"
	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/protocol"
	"github.com/oilytop/server/internal/world"
)

type recordingSaver struct {
	mu    sync.Mutex
	saved []world.Player
}

func (r *recordingSaver) Save(p world.Player) {
	r.mu.Lock()
	r.saved = append(r.saved, p)
	r.mu.Unlock()
}

func (r *recordingSaver) all() []world.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]world.Player(nil), r.saved...)
}

func newTestManager(t *testing.T) (*Manager, *world.Store) {
	t.Helper()
	store := world.NewStore(world.Config{Width: 800, Height: 600, MaxNameLen: 50}, nil)
	mgr := NewManager(store, Config{HeartbeatTimeout: time.Minute, SweepInterval: time.Second}, zap.NewNop())
	mgr.SetBroadcast(broadcast.NewEngine(mgr, 0, zap.NewNop()))
	return mgr, store
}

func newConn(t *testing.T, id uint64) *gamenet.Session {
	t.Helper()
	return gamenet.NewSession(nil, id, 16, time.Second, zap.NewNop())
}

func TestHandleOpenRegisters(t *testing.T) {
	mgr, _ := newTestManager(t)
	s := newConn(t, 1)

	mgr.HandleOpen(s)
	assert.Equal(t, 1, mgr.Count())
	assert.Empty(t, mgr.ActiveSessions(), "connecting sessions are not fan-out targets")
}

func TestBindActivates(t *testing.T) {
	mgr, store := newTestManager(t)
	s := newConn(t, 1)
	mgr.HandleOpen(s)

	p, err := store.CreatePlayer("Hero")
	require.NoError(t, err)
	require.NoError(t, mgr.Bind(s, p.ID))

	assert.Equal(t, protocol.StateActive, s.State())
	assert.Equal(t, p.ID, s.PlayerID())
	assert.Len(t, mgr.ActiveSessions(), 1)
}

func TestBindTwiceFails(t *testing.T) {
	mgr, store := newTestManager(t)
	s := newConn(t, 1)
	mgr.HandleOpen(s)

	p, err := store.CreatePlayer("Hero")
	require.NoError(t, err)
	require.NoError(t, mgr.Bind(s, p.ID))
	assert.ErrorIs(t, mgr.Bind(s, 42), ErrAlreadyBound)
	assert.Equal(t, p.ID, s.PlayerID(), "a failed rebind must not change the binding")
}

func TestBindAfterTerminateFails(t *testing.T) {
	mgr, store := newTestManager(t)
	s := newConn(t, 1)
	mgr.HandleOpen(s)

	mgr.Terminate(s)
	require.Equal(t, protocol.StateClosed, s.State())

	p, err := store.CreatePlayer("Hero")
	require.NoError(t, err)

	err = mgr.Bind(s, p.ID)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, protocol.StateClosed, s.State(), "a dead session must not come back Active")
	assert.Equal(t, int32(0), s.PlayerID())
	assert.Empty(t, mgr.ActiveSessions())
}

func TestTerminateRemovesPlayerAndBroadcastsLeave(t *testing.T) {
	mgr, store := newTestManager(t)
	saver := &recordingSaver{}
	mgr.SetSaver(saver)

	a := newConn(t, 1)
	b := newConn(t, 2)
	mgr.HandleOpen(a)
	mgr.HandleOpen(b)

	pa, err := store.CreatePlayer("Hero")
	require.NoError(t, err)
	require.NoError(t, mgr.Bind(a, pa.ID))
	pb, err := store.CreatePlayer("Mage")
	require.NoError(t, err)
	require.NoError(t, mgr.Bind(b, pb.ID))

	mgr.Terminate(a)

	assert.Equal(t, protocol.StateClosed, a.State())
	assert.True(t, a.IsClosed())
	assert.Equal(t, 1, mgr.Count())
	assert.Equal(t, 1, store.Count())
	_, err = store.Get(pa.ID)
	assert.ErrorIs(t, err, world.ErrNotFound)

	// b got the leave broadcast
	select {
	case frame := <-b.OutQueue:
		msgType, payload, err := protocol.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, protocol.MsgPlayerLeave, msgType)
		assert.Equal(t, pa.ID, payload.(*protocol.PlayerLeave).PlayerID)
	default:
		t.Fatal("expected a PlayerLeave frame on the remaining session")
	}

	saved := saver.all()
	require.Len(t, saved, 1)
	assert.Equal(t, "Hero", saved[0].Name)
}

func TestTerminateIdempotent(t *testing.T) {
	mgr, store := newTestManager(t)
	saver := &recordingSaver{}
	mgr.SetSaver(saver)

	s := newConn(t, 1)
	mgr.HandleOpen(s)
	p, err := store.CreatePlayer("Hero")
	require.NoError(t, err)
	require.NoError(t, mgr.Bind(s, p.ID))

	mgr.Terminate(s)
	mgr.Terminate(s)
	mgr.HandleClose(s)

	assert.Len(t, saver.all(), 1, "each session departs at most once")
	assert.Equal(t, 0, store.Count())
}

func TestTerminateConcurrent(t *testing.T) {
	mgr, store := newTestManager(t)
	saver := &recordingSaver{}
	mgr.SetSaver(saver)

	s := newConn(t, 1)
	mgr.HandleOpen(s)
	p, err := store.CreatePlayer("Hero")
	require.NoError(t, err)
	require.NoError(t, mgr.Bind(s, p.ID))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Terminate(s)
		}()
	}
	wg.Wait()

	assert.Len(t, saver.all(), 1)
	assert.Equal(t, 0, mgr.Count())
}

func TestTerminateUnboundSession(t *testing.T) {
	mgr, store := newTestManager(t)
	s := newConn(t, 1)
	mgr.HandleOpen(s)

	mgr.Terminate(s)

	assert.Equal(t, 0, mgr.Count())
	assert.Equal(t, 0, store.Count())
	assert.Equal(t, protocol.StateClosed, s.State())
}

func TestSweepTerminatesStale(t *testing.T) {
	mgr, store := newTestManager(t)
	fresh := newConn(t, 1)
	stale := newConn(t, 2)
	mgr.HandleOpen(fresh)
	mgr.HandleOpen(stale)

	p, err := store.CreatePlayer("Hero")
	require.NoError(t, err)
	require.NoError(t, mgr.Bind(stale, p.ID))

	// only fresh reported activity recently
	fresh.Touch()
	n := mgr.Sweep(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 2, n, "both sessions are past the timeout at t+2m")

	mgr2, _ := newTestManager(t)
	a := newConn(t, 3)
	mgr2.HandleOpen(a)
	assert.Equal(t, 0, mgr2.Sweep(time.Now()), "a just-opened session is live")
}

func TestSweepBroadcastsLeaveExactlyOnce(t *testing.T) {
	store := world.NewStore(world.Config{Width: 800, Height: 600, MaxNameLen: 50}, nil)
	mgr := NewManager(store, Config{HeartbeatTimeout: 10 * time.Millisecond, SweepInterval: time.Second}, zap.NewNop())
	mgr.SetBroadcast(broadcast.NewEngine(mgr, 0, zap.NewNop()))

	stale := newConn(t, 1)
	watcher := newConn(t, 2)
	mgr.HandleOpen(stale)
	mgr.HandleOpen(watcher)

	p, err := store.CreatePlayer("Hero")
	require.NoError(t, err)
	require.NoError(t, mgr.Bind(stale, p.ID))
	pw, err := store.CreatePlayer("Watcher")
	require.NoError(t, err)
	require.NoError(t, mgr.Bind(watcher, pw.ID))

	// keep the watcher fresh while stale goes quiet
	stale.Touch()
	time.Sleep(20 * time.Millisecond)
	watcher.Touch()

	now := time.Now()
	assert.Equal(t, 1, mgr.Sweep(now), "only the silent session is stale")
	mgr.Sweep(now)

	leaves := 0
	for {
		select {
		case frame := <-watcher.OutQueue:
			msgType, payload, err := protocol.Decode(frame)
			require.NoError(t, err)
			if msgType == protocol.MsgPlayerLeave && payload.(*protocol.PlayerLeave).PlayerID == p.ID {
				leaves++
			}
		default:
			assert.Equal(t, 1, leaves, "peers observe the sweep's PlayerLeave exactly once")
			assert.True(t, stale.IsClosed())
			return
		}
	}
}

func TestTerminateAll(t *testing.T) {
	mgr, store := newTestManager(t)
	for i := uint64(1); i <= 3; i++ {
		s := newConn(t, i)
		mgr.HandleOpen(s)
		p, err := store.CreatePlayer(string(rune('A' + i)))
		require.NoError(t, err)
		require.NoError(t, mgr.Bind(s, p.ID))
	}

	mgr.TerminateAll()
	assert.Equal(t, 0, mgr.Count())
	assert.Equal(t, 0, store.Count())
}

func TestHandleFrameForwardsToDispatcher(t *testing.T) {
	mgr, _ := newTestManager(t)
	var got []byte
	mgr.SetDispatcher(func(_ *gamenet.Session, frame []byte) { got = frame })

	s := newConn(t, 1)
	mgr.HandleOpen(s)
	mgr.HandleFrame(s, []byte(`{"type":99}`))
	assert.Equal(t, `{"type":99}`, string(got))
}
