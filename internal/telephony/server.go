package telephony

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxline-ai/voxline/internal/agent"
	"github.com/voxline-ai/voxline/internal/engine"
	"github.com/voxline-ai/voxline/internal/observability"
	"github.com/voxline-ai/voxline/internal/providers"
	"github.com/voxline-ai/voxline/internal/registry"
	"github.com/voxline-ai/voxline/internal/store"
)

// Providers bundles the capability implementations resolved at startup.
type Providers struct {
	STT providers.STTProvider
	LLM providers.LLMProvider
	TTS providers.TTSProvider
}

// ServerConfig carries the tunables each call inherits.
type ServerConfig struct {
	BindAddr         string
	SampleRate       int
	SpeechThreshold  float64
	BargeInThreshold float64
	SilenceHold      time.Duration
	MinSpeakChars    int
	CharsPerSecond   int
	ConnectTimeout   time.Duration
}

// ServerDeps is everything the audio server needs, injected once.
type ServerDeps struct {
	Config         ServerConfig
	Agents         map[string]*agent.Config
	DefaultAgentID string
	Providers      Providers
	Store          store.Store
	Registry       *registry.Registry
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// Server accepts switch connections on the loopback audio port and runs one
// session plus one conversation engine per connection.
type Server struct {
	cfg     ServerConfig
	agents  map[string]*agent.Config
	defID   string
	prov    Providers
	st      store.Store
	reg     *registry.Registry
	metrics *observability.Metrics
	log     *zap.Logger

	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(d ServerDeps) (*Server, error) {
	if d.Providers.STT == nil || d.Providers.LLM == nil || d.Providers.TTS == nil {
		return nil, fmt.Errorf("telephony: missing provider")
	}
	if len(d.Agents) == 0 {
		return nil, fmt.Errorf("telephony: no agents configured")
	}
	if d.Store == nil {
		d.Store = store.NewInMemoryStore()
	}
	if d.Registry == nil {
		d.Registry = registry.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Server{
		cfg:     d.Config,
		agents:  d.Agents,
		defID:   d.DefaultAgentID,
		prov:    d.Providers,
		st:      d.Store,
		reg:     d.Registry,
		metrics: d.Metrics,
		log:     d.Logger,
	}, nil
}

// Listen binds the audio port. Split from Serve so callers can learn the
// bound address before accepting.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("telephony: listen %s: %w", s.cfg.BindAddr, err)
	}
	s.ln = ln
	s.log.Info("audio server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled, then waits for active
// sessions to wind down.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("telephony: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))

	var (
		eng  *engine.Engine
		sess *Session
	)
	hooks := Hooks{
		OnRegistered: func(callID string) {
			e, err := s.buildEngine(ctx, callID, sess)
			if err != nil {
				log.Error("call setup failed", zap.String("call_id", callID), zap.Error(err))
				sess.Close()
				return
			}
			eng = e
		},
		OnAudio: func(pcm []byte) {
			if eng != nil {
				eng.OnAudio(pcm)
			}
		},
		OnIdentityChanged: func(oldID, newID string) {
			if eng != nil {
				s.reg.Rebind(oldID, newID, eng)
				eng.SetRegistryID(newID)
			}
		},
		OnClosed: func() {
			if eng != nil {
				eng.OnHangup()
			}
		},
	}
	sess = NewSession(conn, hooks, log, s.metrics)
	sess.ReadLoop()
	if eng != nil {
		<-eng.Done()
	}
}

func (s *Server) buildEngine(ctx context.Context, callID string, sess *Session) (*engine.Engine, error) {
	ag := s.agentFor()
	if ag == nil {
		return nil, fmt.Errorf("no agent available for call")
	}

	fns := engine.NewFunctionSet()
	capture := func(key, value string) {
		rec := store.CapturedDatum{CallID: callID, Key: key, Value: value}
		if err := s.st.SaveCapturedDatum(context.Background(), rec); err != nil {
			s.log.Warn("store write failed", zap.String("op", "save captured datum"), zap.Error(err))
			if s.metrics != nil {
				s.metrics.StoreFailures.Inc()
			}
		}
	}
	for _, fn := range engine.BuiltinFunctions(capture) {
		if ag.FunctionEnabled(fn.Name) {
			fns.Register(fn)
		}
	}

	e, err := engine.New(engine.Deps{
		Agent:            ag,
		CallID:           callID,
		Transport:        sess,
		STT:              s.prov.STT,
		LLM:              s.prov.LLM,
		TTS:              s.prov.TTS,
		Store:            s.st,
		Registry:         s.reg,
		Metrics:          s.metrics,
		Logger:           s.log,
		Functions:        fns,
		SampleRate:       s.cfg.SampleRate,
		SpeechThreshold:  s.cfg.SpeechThreshold,
		BargeInThreshold: s.cfg.BargeInThreshold,
		SilenceHold:      s.cfg.SilenceHold,
		MinSpeakChars:    s.cfg.MinSpeakChars,
		CharsPerSecond:   s.cfg.CharsPerSecond,
		ConnectTimeout:   s.cfg.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Server) agentFor() *agent.Config {
	if ag, ok := s.agents[s.defID]; ok {
		return ag
	}
	if len(s.agents) == 1 {
		for _, ag := range s.agents {
			return ag
		}
	}
	return nil
}
