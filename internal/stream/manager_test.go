package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"netfeed/internal/capture"
	"netfeed/internal/models"
	"netfeed/internal/testutil"
)

type managerFixture struct {
	manager     *Manager
	broadcaster *Broadcaster
	source      *stubSource
}

func newManager(t *testing.T) *managerFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := capture.DefaultConfig()
	cfg.StopTimeout = 200 * time.Millisecond

	f := &managerFixture{
		broadcaster: NewBroadcaster(8, logger, nil),
		source:      newStubSource(),
	}
	f.manager = NewManager(cfg, f.source, f.broadcaster, logger)
	t.Cleanup(f.manager.Shutdown)
	return f
}

func (f *managerFixture) join(id, iface string, filter models.Protocol) *fakeConn {
	conn := newFakeConn()
	f.manager.Join(NewSubscriber(id, conn, iface, false, filter))
	return conn
}

func TestManagerStartsOnFirstJoinAndStopsOnLastLeave(t *testing.T) {
	f := newManager(t)
	assert.Nil(t, f.manager.Loop())

	f.join("a", "eth0", "")
	loop := f.manager.Loop()
	require.NotNil(t, loop)
	assert.Equal(t, capture.StateRunning, loop.State())
	assert.Equal(t, "eth0", f.manager.Interface())

	f.join("b", "eth0", "")
	assert.Same(t, loop, f.manager.Loop())

	f.manager.Leave("a")
	assert.Equal(t, capture.StateRunning, loop.State())

	f.manager.Leave("b")
	assert.Nil(t, f.manager.Loop())
	assert.Equal(t, capture.StateStopped, loop.State())
	assert.Equal(t, int32(1), f.source.opens.Load())
}

func TestManagerNewSessionHasFreshDetector(t *testing.T) {
	f := newManager(t)

	f.join("a", "eth0", "")
	first := f.manager.Loop()
	f.source.frames <- testutil.UDPFrame(t, "10.0.0.2", "10.0.0.3", 40000, 5000, nil)
	require.Eventually(t, func() bool {
		return first.Detector().Window().Timestamps == 1
	}, time.Second, time.Millisecond)
	f.manager.Leave("a")

	f.join("b", "eth0", "")
	second := f.manager.Loop()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.NotSame(t, first.Detector(), second.Detector())
	assert.Zero(t, second.Detector().Window().Timestamps)
}

func TestManagerFilterIsSharedBySession(t *testing.T) {
	f := newManager(t)

	f.join("a", "eth0", "")
	f.join("b", "eth0", "")
	f.manager.SetProtocolFilter(models.ProtocolTCP)
	assert.Equal(t, models.ProtocolTCP, f.manager.Loop().ProtocolFilter())

	// A new subscriber's initial filter replaces the session filter.
	f.join("c", "eth0", models.ProtocolUDP)
	assert.Equal(t, models.ProtocolUDP, f.manager.Loop().ProtocolFilter())
}

func TestManagerJoinsExistingSessionOnOtherInterface(t *testing.T) {
	f := newManager(t)

	f.join("a", "eth0", "")
	loop := f.manager.Loop()
	require.NotNil(t, loop)
	f.join("b", "wlan0", "")

	assert.Same(t, loop, f.manager.Loop())
	assert.Equal(t, "eth0", f.manager.Interface())
	assert.Equal(t, 2, f.broadcaster.Len())

	// Open runs on the capture goroutine; a second session would open again.
	require.Eventually(t, func() bool { return f.source.opens.Load() == 1 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return f.source.opens.Load() > 1 }, 20*time.Millisecond, time.Millisecond)
}

func TestManagerCaptureFailureDisconnectsSubscribers(t *testing.T) {
	f := newManager(t)
	f.source.failOpens(errors.New("no such device"))

	a := f.join("a", "bogus0", "")
	b := f.join("b", "bogus0", "")

	require.Eventually(t, func() bool { return a.IsClosed() && b.IsClosed() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.manager.Loop() == nil }, time.Second, time.Millisecond)
	assert.Zero(t, f.broadcaster.Len())

	f.source.failOpens(nil)
	f.join("c", "eth0", "")
	loop := f.manager.Loop()
	require.NotNil(t, loop)
	assert.Equal(t, capture.StateRunning, loop.State())
	assert.Equal(t, "eth0", f.manager.Interface())
}

func TestManagerShutdownClosesEverything(t *testing.T) {
	f := newManager(t)
	a := f.join("a", "eth0", "")
	loop := f.manager.Loop()

	f.manager.Shutdown()

	assert.True(t, a.IsClosed())
	assert.Nil(t, f.manager.Loop())
	assert.Equal(t, capture.StateStopped, loop.State())
}
