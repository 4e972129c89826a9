package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	nferr "netfeed/internal/errors"
	"netfeed/internal/models"
)

func TestParseHandshake(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    models.Handshake
		wantErr bool
	}{
		{
			name:  "defaults",
			input: `{}`,
			want:  models.Handshake{Interface: "en0", ProtocolFilter: models.FilterAll},
		},
		{
			name:  "explicit",
			input: `{"interface":"eth0","isPaused":true,"protocolFilter":"DNS"}`,
			want:  models.Handshake{Interface: "eth0", IsPaused: true, ProtocolFilter: "DNS"},
		},
		{
			name:  "empty strings fall back",
			input: `{"interface":"","protocolFilter":""}`,
			want:  models.Handshake{Interface: "en0", ProtocolFilter: models.FilterAll},
		},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "wrong type", input: `{"isPaused":"yes"}`, wantErr: true},
		{name: "null", input: `null`, wantErr: true},
		{name: "array", input: `[{"interface":"eth0"}]`, wantErr: true},
		{name: "string", input: `"eth0"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHandshake([]byte(tt.input), "en0")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, nferr.IsKind(err, nferr.KindHandshake))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type runningSession struct {
	session *Session
	conn    *fakeConn
	result  chan error
}

func startSession(t *testing.T, ctx context.Context, m *Manager) *runningSession {
	t.Helper()
	rs := &runningSession{conn: newFakeConn(), result: make(chan error, 1)}
	rs.session = NewSession(rs.conn, m, "en0", zaptest.NewLogger(t))
	go func() { rs.result <- rs.session.Run(ctx) }()
	return rs
}

func (rs *runningSession) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-rs.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func (rs *runningSession) activate(t *testing.T, handshake string) *Subscriber {
	t.Helper()
	rs.conn.send(handshake)
	require.Eventually(t, func() bool { return rs.session.State() == SessionActive }, time.Second, time.Millisecond)
	return rs.session.Subscriber()
}

func TestSessionRejectsBadHandshake(t *testing.T) {
	f := newManager(t)
	rs := startSession(t, context.Background(), f.manager)
	assert.Equal(t, SessionConnecting, rs.session.State())

	rs.conn.send(`{not json`)
	err := rs.wait(t)

	require.Error(t, err)
	assert.True(t, nferr.IsKind(err, nferr.KindHandshake))
	assert.True(t, rs.conn.IsClosed())
	assert.Equal(t, SessionClosed, rs.session.State())
	assert.Zero(t, f.broadcaster.Len())
	assert.Nil(t, f.manager.Loop())
}

func TestSessionRejectsNullHandshake(t *testing.T) {
	f := newManager(t)
	rs := startSession(t, context.Background(), f.manager)

	rs.conn.send(`null`)
	err := rs.wait(t)

	require.Error(t, err)
	assert.True(t, nferr.IsKind(err, nferr.KindHandshake))
	assert.True(t, rs.conn.IsClosed())
	assert.Nil(t, f.manager.Loop())
}

func TestSessionControlMessages(t *testing.T) {
	f := newManager(t)
	rs := startSession(t, context.Background(), f.manager)

	sub := rs.activate(t, `{"interface":"eth0","isPaused":true,"protocolFilter":"UDP"}`)
	require.NotNil(t, sub)
	assert.True(t, sub.IsPaused())
	assert.Equal(t, models.ProtocolUDP, sub.Filter())
	assert.Equal(t, models.ProtocolUDP, f.manager.Loop().ProtocolFilter())
	assert.Equal(t, "eth0", f.manager.Interface())

	rs.conn.send(`{"type":"resume"}`)
	require.Eventually(t, func() bool { return !sub.IsPaused() }, time.Second, time.Millisecond)

	rs.conn.send(`{"type":"pause"}`)
	require.Eventually(t, sub.IsPaused, time.Second, time.Millisecond)

	rs.conn.send(`{"type":"filter","protocol":"ALL"}`)
	require.Eventually(t, func() bool { return sub.Filter() == "" }, time.Second, time.Millisecond)
	assert.Equal(t, models.Protocol(""), f.manager.Loop().ProtocolFilter())

	rs.conn.send(`{"type":"filter","protocol":"DNS"}`)
	require.Eventually(t, func() bool { return sub.Filter() == models.ProtocolDNS }, time.Second, time.Millisecond)
	assert.Equal(t, models.ProtocolDNS, f.manager.Loop().ProtocolFilter())

	// Malformed and unknown messages are ignored.
	rs.conn.send(`{"type":`)
	rs.conn.send(`{"type":"reboot"}`)
	rs.conn.send(`{"type":"resume"}`)
	require.Eventually(t, func() bool { return !sub.IsPaused() }, time.Second, time.Millisecond)
	assert.Equal(t, SessionActive, rs.session.State())

	rs.conn.Close()
	require.NoError(t, rs.wait(t))
	assert.Equal(t, SessionClosed, rs.session.State())
	assert.Zero(t, f.broadcaster.Len())
	assert.Nil(t, f.manager.Loop(), "last subscriber leaving stops capture")
}

func TestSessionFilterChangeAffectsEverySubscriber(t *testing.T) {
	f := newManager(t)
	first := startSession(t, context.Background(), f.manager)
	second := startSession(t, context.Background(), f.manager)

	first.activate(t, `{"interface":"eth0"}`)
	other := second.activate(t, `{"interface":"eth0"}`)

	first.conn.send(`{"type":"filter","protocol":"TCP"}`)
	require.Eventually(t, func() bool {
		return f.manager.Loop().ProtocolFilter() == models.ProtocolTCP
	}, time.Second, time.Millisecond)
	assert.Equal(t, models.Protocol(""), other.Filter(), "only the session filter changes for others")

	first.conn.Close()
	require.NoError(t, first.wait(t))
	require.NotNil(t, f.manager.Loop(), "capture continues while a subscriber remains")

	second.conn.Close()
	require.NoError(t, second.wait(t))
	assert.Nil(t, f.manager.Loop())
}

func TestSessionEndsOnContextCancel(t *testing.T) {
	f := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	rs := startSession(t, ctx, f.manager)
	rs.activate(t, `{}`)

	cancel()
	require.NoError(t, rs.wait(t))
	assert.True(t, rs.conn.IsClosed())
	assert.Nil(t, f.manager.Loop())
}
