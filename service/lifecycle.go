package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusLoading   = "loading"
	StatusNotLoaded = "not_loaded"
)

// Loader produces a ready model. It is called at most once at a time, with a
// context that ends only when the manager is closed.
type Loader interface {
	Load(ctx context.Context) (*ModelHandle, error)
}

type LoaderFunc func(ctx context.Context) (*ModelHandle, error)

func (f LoaderFunc) Load(ctx context.Context) (*ModelHandle, error) { return f(ctx) }

type Health struct {
	Status    string     `json:"status"`
	Loaded    bool       `json:"model_loaded"`
	ModelID   string     `json:"model_name"`
	Device    string     `json:"device"`
	LoadedAt  *time.Time `json:"loaded_at,omitempty"`
	Attempts  int64      `json:"load_attempts"`
	LastError string     `json:"error,omitempty"`
}

type loadFailure struct {
	err error
	at  time.Time
}

// Manager owns the single model instance. The first successful load is
// published once and reused for the life of the process; failed loads
// are not remembered, so the next caller tries again. A load runs on a
// context owned by the manager, so callers that stop waiting do not abort
// it for everyone else.
type Manager struct {
	modelID string
	device  string
	loader  Loader
	logger  *zap.Logger

	group singleflight.Group

	mu     sync.Mutex
	base   context.Context
	cancel context.CancelFunc

	handle   atomic.Pointer[ModelHandle]
	loading  atomic.Bool
	attempts atomic.Int64
	lastErr  atomic.Pointer[loadFailure]
}

func NewManager(modelID, device string, loader Loader, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		modelID: modelID,
		device:  device,
		loader:  loader,
		logger:  logger.Named("lifecycle"),
		base:    base,
		cancel:  cancel,
	}
}

// EnsureLoaded returns the loaded model, loading it first if needed.
// Concurrent callers share a single load. A caller whose ctx ends first
// gets a ModelLoadError wrapping ctx.Err() while the load carries on.
func (m *Manager) EnsureLoaded(ctx context.Context) (*ModelHandle, error) {
	if h := m.handle.Load(); h != nil {
		return h, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &ModelLoadError{ModelID: m.modelID, Err: err}
	}

	ch := m.group.DoChan("load", func() (any, error) {
		h, err := m.loadShared()
		if err != nil {
			return nil, err
		}
		return h, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*ModelHandle), nil
	case <-ctx.Done():
		m.logger.Debug("Stopped waiting for model load",
			zap.String("model", m.modelID),
			zap.Error(ctx.Err()))
		return nil, &ModelLoadError{ModelID: m.modelID, Err: ctx.Err()}
	}
}

func (m *Manager) loadShared() (*ModelHandle, error) {
	if h := m.handle.Load(); h != nil {
		return h, nil
	}

	m.mu.Lock()
	base := m.base
	m.mu.Unlock()

	m.loading.Store(true)
	defer m.loading.Store(false)
	m.attempts.Add(1)

	m.logger.Info("Loading model",
		zap.String("model", m.modelID),
		zap.String("device", m.device))
	start := time.Now()

	h, err := m.load(base)
	if err != nil {
		m.lastErr.Store(&loadFailure{err: err, at: time.Now()})
		modelLoadOps.WithLabelValues("error").Inc()
		m.logger.Error("Failed to load model",
			zap.String("model", m.modelID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, &ModelLoadError{ModelID: m.modelID, Err: err}
	}

	if h.ModelID == "" {
		h.ModelID = m.modelID
	}
	if h.Device == "" {
		h.Device = m.device
	}
	h.LoadedAt = time.Now()
	h.LoadDuration = h.LoadedAt.Sub(start)

	m.mu.Lock()
	if base.Err() != nil {
		// Closed while the loader ignored cancellation.
		m.mu.Unlock()
		_ = h.Captioner.Close()
		return nil, &ModelLoadError{ModelID: m.modelID, Err: base.Err()}
	}
	m.handle.Store(h)
	m.lastErr.Store(nil)
	m.mu.Unlock()

	modelLoadOps.WithLabelValues("success").Inc()
	modelLoadDuration.WithLabelValues(h.Device).Observe(h.LoadDuration.Seconds())
	modelLoaded.Set(1)

	m.logger.Info("Model loaded",
		zap.String("model", h.ModelID),
		zap.String("device", h.Device),
		zap.Duration("duration", h.LoadDuration))
	return h, nil
}

func (m *Manager) load(ctx context.Context) (h *ModelHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("loader panicked: %v", r)
		}
	}()
	h, err = m.loader.Load(ctx)
	if err == nil && (h == nil || h.Captioner == nil) {
		err = fmt.Errorf("loader returned no model")
	}
	return h, err
}

// Preload loads the model ahead of the first request. A failure is logged
// and returned but leaves the manager usable.
func (m *Manager) Preload(ctx context.Context) error {
	_, err := m.EnsureLoaded(ctx)
	return err
}

// HealthCheck makes sure the model is loaded and reports the outcome. It
// never returns an error and never runs inference. If ctx ends while a load
// is still running the status is loading.
func (m *Manager) HealthCheck(ctx context.Context) (health Health) {
	defer func() {
		if r := recover(); r != nil {
			health = m.snapshot()
			health.Status = StatusUnhealthy
			health.LastError = fmt.Sprintf("health check panicked: %v", r)
		}
	}()

	if _, err := m.EnsureLoaded(ctx); err != nil {
		health = m.snapshot()
		switch health.Status {
		case StatusHealthy:
			return health
		case StatusLoading:
		default:
			health.Status = StatusUnhealthy
		}
		health.LastError = err.Error()
		return health
	}
	return m.snapshot()
}

// Status reports the current state without triggering or waiting for a
// load.
func (m *Manager) Status() Health {
	return m.snapshot()
}

func (m *Manager) Loaded() bool {
	return m.handle.Load() != nil
}

func (m *Manager) Device() string {
	if h := m.handle.Load(); h != nil {
		return h.Device
	}
	return m.device
}

func (m *Manager) ModelID() string {
	return m.modelID
}

func (m *Manager) snapshot() Health {
	h := Health{
		ModelID:  m.modelID,
		Device:   m.Device(),
		Attempts: m.attempts.Load(),
	}
	if handle := m.handle.Load(); handle != nil {
		at := handle.LoadedAt
		h.Status = StatusHealthy
		h.Loaded = true
		h.LoadedAt = &at
		return h
	}
	failure := m.lastErr.Load()
	switch {
	case m.loading.Load():
		h.Status = StatusLoading
	case failure != nil:
		h.Status = StatusUnhealthy
		h.LastError = failure.err.Error()
	default:
		h.Status = StatusNotLoaded
	}
	return h
}

// Close releases the model and cancels a load in progress. A later
// EnsureLoaded loads it again.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()
	m.base, m.cancel = context.WithCancel(context.Background())

	h := m.handle.Swap(nil)
	if h == nil {
		return nil
	}
	modelLoaded.Set(0)
	m.logger.Info("Releasing model", zap.String("model", h.ModelID))
	return h.Captioner.Close()
}
