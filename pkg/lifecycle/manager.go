// Package lifecycle starts and stops long-lived components in dependency order.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Resource represents any component that needs lifecycle management
type Resource interface {
	// Name returns a unique identifier for the resource
	Name() string
	// Start initializes the resource
	Start(ctx context.Context) error
	// Stop gracefully shuts down the resource
	Stop(ctx context.Context) error
	// Health returns the current health status
	Health() error
}

// Manager provides centralized lifecycle management for all resources
type Manager struct {
	resources    map[string]Resource
	dependencies map[string][]string // resource -> dependencies
	started      []string
	mu           sync.RWMutex
	log          *zap.Logger
	shutdownCtx  context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	// StopTimeout bounds each resource's Stop call.
	StopTimeout time.Duration
}

// NewManager creates a new lifecycle manager
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		resources:    make(map[string]Resource),
		dependencies: make(map[string][]string),
		log:          log.With(zap.String("module", "lifecycle")),
		shutdownCtx:  ctx,
		cancel:       cancel,
		StopTimeout:  30 * time.Second,
	}
}

// Register adds a resource to the manager with optional dependencies
func (m *Manager) Register(resource Resource, dependencies ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := resource.Name()
	if _, exists := m.resources[name]; exists {
		return fmt.Errorf("resource %s already registered", name)
	}

	m.resources[name] = resource
	m.dependencies[name] = dependencies
	return nil
}

// Start launches all resources in dependency order. If one fails, the
// resources already started are stopped in reverse order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.resolveDependencies()
	if err != nil {
		return fmt.Errorf("failed to resolve dependencies: %w", err)
	}

	for i, name := range order {
		resource := m.resources[name]
		m.log.Info("Starting resource", zap.String("resource", name))

		if err := resource.Start(ctx); err != nil {
			m.log.Error("Failed to start resource",
				zap.String("resource", name),
				zap.Error(err))
			m.stopResources(context.Background(), order[:i])
			return fmt.Errorf("failed to start resource %s: %w", name, err)
		}
	}
	m.started = order

	m.log.Info("All resources started successfully")
	return nil
}

// Stop gracefully shuts down started resources in reverse dependency order
// and waits for scheduled cleanups.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Signal shutdown to all components
	m.cancel()

	m.stopResources(ctx, m.started)
	m.started = nil

	// Wait for all background operations to complete
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("All resources stopped successfully")
		return nil
	case <-ctx.Done():
		m.log.Warn("Shutdown timeout exceeded")
		return ctx.Err()
	}
}

// Health checks all registered resources
func (m *Manager) Health() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := make(map[string]error)
	for name, resource := range m.resources {
		health[name] = resource.Health()
	}
	return health
}

// ScheduleCleanup schedules a cleanup function to run during shutdown
func (m *Manager) ScheduleCleanup(name string, cleanup func() error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-m.shutdownCtx.Done()

		if err := cleanup(); err != nil {
			m.log.Error("Cleanup failed",
				zap.String("name", name),
				zap.Error(err))
		} else {
			m.log.Debug("Cleanup completed", zap.String("name", name))
		}
	}()
}

// ShutdownContext returns a context that is cancelled when shutdown begins
func (m *Manager) ShutdownContext() context.Context {
	return m.shutdownCtx
}

// resolveDependencies returns resources in startup order. Independent
// resources start in name order.
func (m *Manager) resolveDependencies() ([]string, error) {
	var order []string
	visited := make(map[string]bool)
	temp := make(map[string]bool)

	var visit func(string) error
	visit = func(name string) error {
		if temp[name] {
			return fmt.Errorf("circular dependency detected involving %s", name)
		}
		if visited[name] {
			return nil
		}

		temp[name] = true
		for _, dep := range m.dependencies[name] {
			if _, exists := m.resources[dep]; !exists {
				return fmt.Errorf("dependency %s not found for resource %s", dep, name)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		temp[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(m.resources))
	for name := range m.resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// stopResources stops a list of resources in reverse order
func (m *Manager) stopResources(ctx context.Context, names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		resource := m.resources[name]

		m.log.Info("Stopping resource", zap.String("resource", name))
		stopCtx, cancel := context.WithTimeout(ctx, m.StopTimeout)
		if err := resource.Stop(stopCtx); err != nil {
			m.log.Error("Failed to stop resource",
				zap.String("resource", name),
				zap.Error(err))
		}
		cancel()
	}
}

// Func adapts plain functions to Resource. Nil functions are no-ops.
type Func struct {
	ID       string
	StartFn  func(ctx context.Context) error
	StopFn   func(ctx context.Context) error
	HealthFn func() error
}

func (f Func) Name() string { return f.ID }

func (f Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

func (f Func) Health() error {
	if f.HealthFn == nil {
		return nil
	}
	return f.HealthFn()
}
