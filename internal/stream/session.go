package stream

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	nferr "netfeed/internal/errors"
	"netfeed/internal/models"
)

// SessionState is the lifecycle of one subscriber connection.
type SessionState int32

const (
	SessionConnecting SessionState = iota // waiting for the handshake
	SessionActive                         // registered, receiving batches
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	default:
		return "closed"
	}
}

// ParseHandshake decodes the first message of a connection, which must be a JSON object.
// Missing fields take their defaults: defaultIface, not paused, no filter.
func ParseHandshake(data []byte, defaultIface string) (models.Handshake, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.Handshake{}, nferr.Wrap(err, nferr.KindHandshake, "decode handshake")
	}
	if fields == nil {
		return models.Handshake{}, nferr.New(nferr.KindHandshake, "handshake must be a JSON object")
	}

	hs := models.Handshake{
		Interface:      defaultIface,
		ProtocolFilter: models.FilterAll,
	}
	if err := json.Unmarshal(data, &hs); err != nil {
		return models.Handshake{}, nferr.Wrap(err, nferr.KindHandshake, "decode handshake")
	}
	if hs.Interface == "" {
		hs.Interface = defaultIface
	}
	if hs.ProtocolFilter == "" {
		hs.ProtocolFilter = models.FilterAll
	}
	return hs, nil
}

// Session serves one subscriber connection: handshake, registration, then control
// messages until the connection ends.
type Session struct {
	ID string

	conn         Conn
	manager      *Manager
	defaultIface string
	logger       *zap.Logger

	state atomic.Int32
	sub   *Subscriber
}

// NewSession creates a session in the connecting state.
func NewSession(conn Conn, manager *Manager, defaultIface string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		ID:           id,
		conn:         conn,
		manager:      manager,
		defaultIface: defaultIface,
		logger:       logger.Named("subscriber").With(zap.String("subscriber", id)),
	}
}

// State returns the session's lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Subscriber returns the registered subscriber, nil before the handshake completes.
func (s *Session) Subscriber() *Subscriber {
	if s.State() != SessionActive {
		return nil
	}
	return s.sub
}

// Run blocks until the connection ends or ctx is cancelled. A bad handshake closes the
// connection and returns a KindHandshake error; a normal disconnect returns nil.
func (s *Session) Run(ctx context.Context) error {
	defer s.state.Store(int32(SessionClosed))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-stop:
		}
	}()

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		s.conn.Close()
		return nferr.Wrap(err, nferr.KindTransport, "read handshake")
	}

	hs, err := ParseHandshake(data, s.defaultIface)
	if err != nil {
		s.logger.Warn("Rejecting connection", zap.Error(err))
		s.conn.Close()
		return err
	}

	s.sub = NewSubscriber(s.ID, s.conn, hs.Interface, hs.IsPaused, models.ParseFilter(hs.ProtocolFilter))
	s.manager.Join(s.sub)
	s.state.Store(int32(SessionActive))
	defer s.manager.Leave(s.ID)

	s.logger.Debug("Handshake accepted",
		zap.String("interface", hs.Interface),
		zap.Bool("paused", hs.IsPaused),
		zap.String("filter", hs.ProtocolFilter))

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("Connection ended", zap.Error(err))
			s.conn.Close()
			return nil
		}
		s.handleControl(data)
	}
}

func (s *Session) handleControl(data []byte) {
	var msg models.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("Ignoring malformed control message",
			zap.Error(nferr.Wrap(err, nferr.KindControl, "decode control message")))
		return
	}

	switch msg.Type {
	case models.ControlPause:
		s.sub.Pause()
		s.logger.Debug("Paused")
	case models.ControlResume:
		s.sub.Resume()
		s.logger.Debug("Resumed")
	case models.ControlFilter:
		p := models.ParseFilter(msg.Protocol)
		s.sub.SetFilter(p)
		s.manager.SetProtocolFilter(p)
	default:
		s.logger.Debug("Ignoring unknown control message", zap.String("type", msg.Type))
	}
}
