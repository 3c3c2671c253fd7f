package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/hdrnode/internal/events"
)

// Manager follows capture events and keeps the status LED in step.
type Manager struct {
	controller Controller
	eventBus   *events.Bus
	logger     *slog.Logger

	mu      sync.Mutex
	current Pattern
	unsubs  []func()
}

// NewManager creates a manager for controller.
func NewManager(controller Controller, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// Start shows PatternIdle and subscribes to capture events.
func (m *Manager) Start() {
	m.set(PatternIdle)
	m.unsubs = append(m.unsubs,
		m.eventBus.Subscribe(func(events.CaptureCompletedEvent) { m.set(PatternOK) }),
		m.eventBus.Subscribe(func(events.CaptureFailedEvent) { m.set(PatternFault) }),
	)
	m.logger.Info("Status LED manager started", "led", m.controller.Name())
}

// Stop unsubscribes and turns the LED off.
func (m *Manager) Stop() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	m.set(PatternOff)
}

// Pattern returns the pattern last applied.
func (m *Manager) Pattern() Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) set(p Pattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == m.current {
		return
	}
	if err := m.controller.Set(p); err != nil {
		m.logger.Warn("Failed to set status LED", "pattern", p, "error", err)
		return
	}
	m.logger.Debug("Status LED changed", "from", m.current, "to", p)
	m.current = p
}
