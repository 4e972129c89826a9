package stream

import (
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"netfeed/internal/metrics"
	"netfeed/internal/models"
)

func newBroadcaster(t *testing.T) (*Broadcaster, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return NewBroadcaster(4, zaptest.NewLogger(t), m), m
}

func subscribe(b *Broadcaster, id string) (*Subscriber, *fakeConn) {
	conn := newFakeConn()
	sub := NewSubscriber(id, conn, "eth0", false, "")
	b.Add(sub)
	return sub, conn
}

var portFinding = models.AnomalyFinding{
	Kind:     models.AnomalyUnusualPort,
	Message:  "Unusual port detected: 40000",
	Severity: models.SeverityLow,
}

func TestDeliverSendsPacketsThenAnomalies(t *testing.T) {
	b, _ := newBroadcaster(t)
	_, conn := subscribe(b, "a")

	b.Deliver(models.NewBatch([]models.PacketRecord{
		record(models.ProtocolTCP, "TCP 40000 → 8080", portFinding),
		record(models.ProtocolUDP, "UDP 5353 → 5353"),
	}))

	assert.Equal(t, []string{models.MessagePackets, models.MessageAnomalies}, conn.types())
	assert.Equal(t, []string{"TCP 40000 → 8080", "UDP 5353 → 5353"}, conn.infos())
}

func TestDeliverOmitsEmptyAnomaliesMessage(t *testing.T) {
	b, _ := newBroadcaster(t)
	_, conn := subscribe(b, "a")

	b.Deliver(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "u")}))
	b.Deliver(models.NewBatch(nil))

	assert.Equal(t, []string{models.MessagePackets}, conn.types())
}

func TestDeliverSkipsPausedWithoutReplay(t *testing.T) {
	b, _ := newBroadcaster(t)
	sub, conn := subscribe(b, "a")
	sub.Pause()

	b.Deliver(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "first")}))
	assert.Empty(t, conn.types())

	sub.Resume()
	b.Deliver(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "second")}))
	assert.Equal(t, []string{"second"}, conn.infos())
}

func TestDeliverAppliesSubscriberFilter(t *testing.T) {
	b, _ := newBroadcaster(t)
	sub, conn := subscribe(b, "a")
	_, other := subscribe(b, "b")
	sub.SetFilter(models.ProtocolUDP)

	b.Deliver(models.NewBatch([]models.PacketRecord{
		record(models.ProtocolTCP, "tcp", portFinding),
		record(models.ProtocolUDP, "udp"),
	}))

	assert.Equal(t, []string{"udp"}, conn.infos())
	assert.Equal(t, []string{models.MessagePackets}, conn.types(), "anomalies follow the filtered records")
	assert.Equal(t, []string{"tcp", "udp"}, other.infos())
}

func TestDeliverRemovesFailedSubscriber(t *testing.T) {
	b, m := newBroadcaster(t)
	_, bad := subscribe(b, "bad")
	_, good := subscribe(b, "good")
	bad.failWrites.Store(true)

	b.Deliver(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "u")}))

	assert.Equal(t, []string{"u"}, good.infos())
	require.Eventually(t, bad.IsClosed, time.Second, time.Millisecond)
	_, ok := b.Get("bad")
	assert.False(t, ok)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.SendErrors))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Subscribers))

	b.Deliver(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "v")}))
	assert.Equal(t, []string{"u", "v"}, good.infos())
}

func TestDeliverDoesNotWaitForFailedClose(t *testing.T) {
	b, _ := newBroadcaster(t)
	_, bad := subscribe(b, "bad")
	bad.failWrites.Store(true)
	bad.closeGate = make(chan struct{})
	_, good := subscribe(b, "good")

	delivered := make(chan struct{})
	go func() {
		b.Deliver(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "u")}))
		b.Deliver(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "v")}))
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("delivery blocked on closing a failed subscriber")
	}
	assert.Equal(t, []string{"u", "v"}, good.infos())
	assert.False(t, bad.IsClosed())

	close(bad.closeGate)
	require.Eventually(t, bad.IsClosed, time.Second, time.Millisecond)
}

func TestObserverSeesEveryBatch(t *testing.T) {
	b, _ := newBroadcaster(t)
	var seen []int
	b.Observe(func(batch models.Batch) { seen = append(seen, batch.Len()) })

	b.Deliver(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "u")}))
	sub, _ := subscribe(b, "a")
	sub.Pause()
	b.Deliver(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "u"), record(models.ProtocolUDP, "v")}))

	assert.Equal(t, []int{1, 2}, seen)
}

func TestEnqueueDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(1, zaptest.NewLogger(t), nil)
	batch := models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, "u")})

	assert.True(t, b.Enqueue(batch))
	assert.False(t, b.Enqueue(batch))
}

func TestRunDeliversInOrder(t *testing.T) {
	b, _ := newBroadcaster(t)
	_, conn := subscribe(b, "a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	for _, info := range []string{"1", "2", "3"} {
		require.True(t, b.Enqueue(models.NewBatch([]models.PacketRecord{record(models.ProtocolUDP, info)})))
	}

	require.Eventually(t, func() bool { return len(conn.infos()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3"}, conn.infos())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCloseAllClosesConnections(t *testing.T) {
	b, _ := newBroadcaster(t)
	_, a := subscribe(b, "a")
	_, c := subscribe(b, "c")

	b.CloseAll()

	assert.True(t, a.IsClosed())
	assert.True(t, c.IsClosed())
	assert.Zero(t, b.Len())
}
