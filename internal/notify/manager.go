package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ManagerConfig describes the shared dependencies of every engine the
// manager hands out.
type ManagerConfig struct {
	Sources         []Source
	Store           *FeedStore
	Bus             *ActivityBus
	RefreshInterval time.Duration
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Manager lazily constructs one Engine per user. The first access for a
// user starts that user's engine, which immediately runs its initial
// refresh; a change of active user on the consumer side therefore maps
// onto a fresh engine with a fresh cycle.
type Manager struct {
	cfg     ManagerConfig
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager constructs a Manager. Engines it creates stop when Close
// is called.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if len(cfg.Sources) == 0 {
		return nil, errMissingEngineSources
	}
	if cfg.Store == nil {
		return nil, errMissingEngineStore
	}
	if cfg.Bus == nil {
		return nil, errMissingEngineBus
	}

	managerCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		cfg:     cfg,
		ctx:     managerCtx,
		cancel:  cancel,
		engines: make(map[string]*Engine),
	}, nil
}

// EngineFor returns the engine owning the user's feed, starting it on
// first access.
func (m *Manager) EngineFor(user UserID) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if engine, ok := m.engines[user.String()]; ok {
		return engine, nil
	}

	engine, err := NewEngine(EngineConfig{
		User:            user,
		Sources:         m.cfg.Sources,
		Store:           m.cfg.Store,
		Bus:             m.cfg.Bus,
		RefreshInterval: m.cfg.RefreshInterval,
		Clock:           m.cfg.Clock,
		Logger:          m.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	engine.Start(m.ctx)
	m.engines[user.String()] = engine
	return engine, nil
}

// Close stops every engine the manager started.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, engine := range m.engines {
		engines = append(engines, engine)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for _, engine := range engines {
		engine.Close()
	}
}
