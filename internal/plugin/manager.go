// Package plugin hosts bundle plugins: it registers them, hands each hook a
// PluginContext bound to the current bundle and runs the hooks in order.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goatkit/extreload/pkg/bundle"
)

// Manager handles plugin registration and hook invocation.
type Manager struct {
	mu      sync.RWMutex
	order   []string
	plugins map[string]bundle.Plugin
	logs    *LogBuffer
	logger  *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogBuffer records plugin errors and warnings in buf.
func WithLogBuffer(buf *LogBuffer) ManagerOption {
	return func(m *Manager) {
		m.logs = buf
	}
}

// WithLogger injects a custom logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a plugin manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		plugins: make(map[string]bundle.Plugin),
		logs:    NewLogBuffer(0),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a plugin. Hooks run in registration order.
func (m *Manager) Register(p bundle.Plugin) error {
	if p == nil {
		return fmt.Errorf("register: nil plugin")
	}
	name := p.Name()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}

	m.plugins[name] = p
	m.order = append(m.order, name)
	m.logger.Debug("plugin registered", "plugin", name)
	return nil
}

// List returns the names of all registered plugins in registration order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Logs returns the buffer holding reported plugin errors and warnings.
func (m *Manager) Logs() *LogBuffer {
	return m.logs
}

// GenerateBundle runs every generateBundle hook against b. The first error
// aborts the build.
func (m *Manager) GenerateBundle(ctx context.Context, opts bundle.OutputOptions, b bundle.Bundle) error {
	for _, p := range m.ordered() {
		hook, ok := p.(bundle.GenerateBundleHook)
		if !ok {
			continue
		}
		name := p.Name()
		if err := hook.GenerateBundle(ctx, m.newContext(name, b), opts, b); err != nil {
			return fmt.Errorf("plugin %q generateBundle: %w", name, err)
		}
	}
	return nil
}

// WriteBundle writes b to opts.Dir and then runs every writeBundle hook.
func (m *Manager) WriteBundle(ctx context.Context, opts bundle.OutputOptions, b bundle.Bundle) error {
	if opts.Dir == "" {
		return fmt.Errorf("write bundle: no output directory")
	}
	if err := bundle.Write(opts.Dir, b); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}

	for _, p := range m.ordered() {
		hook, ok := p.(bundle.WriteBundleHook)
		if !ok {
			continue
		}
		name := p.Name()
		if err := hook.WriteBundle(ctx, m.newContext(name, b), opts, b); err != nil {
			return fmt.Errorf("plugin %q writeBundle: %w", name, err)
		}
	}
	return nil
}

// Build runs GenerateBundle and WriteBundle.
func (m *Manager) Build(ctx context.Context, opts bundle.OutputOptions, b bundle.Bundle) error {
	if err := m.GenerateBundle(ctx, opts, b); err != nil {
		return err
	}
	return m.WriteBundle(ctx, opts, b)
}

func (m *Manager) ordered() []bundle.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]bundle.Plugin, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name])
	}
	return out
}

func (m *Manager) newContext(name string, b bundle.Bundle) *Context {
	return NewContext(name, b, WithContextLogs(m.logs), WithContextLogger(m.logger))
}
