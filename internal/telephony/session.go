// Package telephony terminates the switch-facing audio socket: one TCP
// connection per call leg, framed per the wire protocol, bridged into a
// conversation engine.
package telephony

import (
	"sync"

	"go.uber.org/zap"

	"github.com/voxline-ai/voxline/internal/audio"
	"github.com/voxline-ai/voxline/internal/observability"
)

// Conn is the subset of net.Conn the session needs.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Hooks observe session lifecycle. OnRegistered fires exactly once, on the
// first handshake; later handshakes with a different id fire
// OnIdentityChanged instead. All hooks run on the session's read goroutine.
type Hooks struct {
	OnRegistered      func(callID string)
	OnAudio           func(pcm []byte)
	OnIdentityChanged func(oldID, newID string)
	OnClosed          func()
}

// Session owns one switch connection for one call leg. It decodes inbound
// frames, surfaces them through Hooks, and encodes playback on the way out.
type Session struct {
	conn    Conn
	dec     *audio.Decoder
	hooks   Hooks
	log     *zap.Logger
	metrics *observability.Metrics

	writeMu sync.Mutex

	mu         sync.RWMutex
	id         string
	registered bool

	closeOnce sync.Once
	closed    chan struct{}
}

func NewSession(conn Conn, hooks Hooks, log *zap.Logger, metrics *observability.Metrics) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		conn:    conn,
		dec:     audio.NewDecoder(),
		hooks:   hooks,
		log:     log,
		metrics: metrics,
		closed:  make(chan struct{}),
	}
}

// ID is the call identifier from the most recent handshake, empty before
// the first one.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// ReadLoop consumes the connection until it dies. A transport error is
// handled exactly like a clean hangup: the session closes, nothing
// propagates up.
func (s *Session) ReadLoop() {
	defer s.Close()
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.dec.Write(buf[:n])
			s.dispatchFrames()
		}
		if err != nil {
			return
		}
		select {
		case <-s.closed:
			return
		default:
		}
	}
}

func (s *Session) dispatchFrames() {
	for {
		frame, ok := s.dec.Next()
		if !ok {
			return
		}
		if s.metrics != nil {
			s.metrics.FramesDecoded.WithLabelValues(frame.Type.String()).Inc()
		}
		switch frame.Type {
		case audio.FrameHandshake:
			s.handleHandshake(audio.HandshakeID(frame.Payload))
		case audio.FrameSilence:
			// Comfort noise, nothing to do.
		case audio.FrameAudio:
			if s.hooks.OnAudio != nil {
				s.hooks.OnAudio(frame.Payload)
			}
		case audio.FrameHangup:
			s.Close()
			return
		default:
			s.log.Debug("unknown frame type", zap.Uint8("type", uint8(frame.Type)))
		}
	}
}

func (s *Session) handleHandshake(callID string) {
	s.mu.Lock()
	prev := s.id
	wasRegistered := s.registered
	s.id = callID
	s.registered = true
	s.mu.Unlock()

	switch {
	case !wasRegistered:
		s.log.Info("session registered", zap.String("call_id", callID))
		if s.hooks.OnRegistered != nil {
			s.hooks.OnRegistered(callID)
		}
	case prev != callID:
		s.log.Info("session identity changed",
			zap.String("old_call_id", prev), zap.String("call_id", callID))
		if s.hooks.OnIdentityChanged != nil {
			s.hooks.OnIdentityChanged(prev, callID)
		}
	}
}

// SendAudio frames and writes playback PCM, splitting buffers that exceed
// the frame payload limit.
func (s *Session) SendAudio(pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for len(pcm) > 0 {
		chunk := pcm
		if len(chunk) > audio.MaxPayload {
			chunk = chunk[:audio.MaxPayload]
		}
		frame, err := audio.Encode(audio.FrameAudio, chunk)
		if err != nil {
			return err
		}
		if _, err := s.conn.Write(frame); err != nil {
			return err
		}
		pcm = pcm[len(chunk):]
	}
	return nil
}

// Close tears the session down. Idempotent: the connection is closed and
// OnClosed fires exactly once no matter how many paths race here.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if err := s.conn.Close(); err != nil {
			s.log.Debug("connection close", zap.Error(err))
		}
		if s.hooks.OnClosed != nil {
			s.hooks.OnClosed()
		}
	})
	return nil
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
