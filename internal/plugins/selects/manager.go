// Package selects is the select platform: program, program option and setting
// selects for every paired appliance.
package selects

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"homeconnect-bridge/internal/config"
	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/homeconnect"
)

// Manager discovers select entities when appliances are paired or a program
// is selected, and releases them when an appliance is depaired.
type Manager struct {
	hub      *homeconnect.HomeConnect
	entities *entity.Manager
	remover  entity.Remover
	table    *config.Entities
	logger   *zap.Logger

	mu   sync.Mutex
	subs []homeconnect.Subscription

	// events serializes discovery and removal passes
	events sync.Mutex
}

// NewManager creates the select platform. When host also implements
// entity.Remover, depaired appliances are removed from it.
func NewManager(hub *homeconnect.HomeConnect, host entity.Host, table *config.Entities, logger *zap.Logger) *Manager {
	if table == nil {
		table = config.DefaultEntities()
	}
	logger = logger.Named("selects")
	remover, _ := host.(entity.Remover)
	return &Manager{
		hub:      hub,
		entities: entity.NewManager(host, logger),
		remover:  remover,
		table:    table,
		logger:   logger,
	}
}

// Start subscribes to appliance events and sets up the appliances already paired
func (m *Manager) Start() error {
	m.mu.Lock()
	m.subs = append(m.subs,
		m.hub.Subscribe(m.addAppliance, homeconnect.EventPaired, homeconnect.EventProgramSelected),
		m.hub.Subscribe(m.removeAppliance, homeconnect.EventDepaired),
	)
	m.mu.Unlock()

	for _, a := range m.hub.Appliances() {
		m.addAppliance(a)
	}
	m.logger.Info("Select platform started")
	return nil
}

// Stop drops the hub subscriptions
func (m *Manager) Stop() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	m.logger.Info("Select platform stopped")
}

// Entities returns the selects registered with the host
func (m *Manager) Entities() []entity.Entity {
	return m.entities.Entities()
}

// Guard exposes the registration guard of this platform
func (m *Manager) Guard() *entity.Manager {
	return m.entities
}

// addAppliance runs a discovery pass unless the appliance was depaired or
// replaced in the meantime.
func (m *Manager) addAppliance(a *homeconnect.Appliance) {
	m.events.Lock()
	defer m.events.Unlock()

	if current, ok := m.hub.Appliance(a.HaID); !ok || current != a {
		return
	}
	snap := a.Snapshot()

	if snap.HasPrograms() {
		m.entities.Add(NewProgramSelect(a, m.table.DeviceIcon(a.Type)))
	}

	for _, programKey := range sortedKeys(snap.AvailablePrograms) {
		program := snap.AvailablePrograms[programKey]
		if program == nil {
			continue
		}
		for _, key := range sortedKeys(program.Options) {
			if m.selectable(key, program.Options[key]) {
				m.entities.Add(NewOptionSelect(a, key, entity.Conf{}))
			}
		}
	}

	for _, key := range sortedKeys(snap.Settings) {
		if m.selectable(key, snap.Settings[key]) {
			m.entities.Add(NewSettingSelect(a, key, entity.Conf{}))
		}
	}

	m.entities.Register()
}

// selectable is true for keys that are not ignored and have a real choice
func (m *Manager) selectable(key string, opt *homeconnect.Option) bool {
	return opt != nil && !m.table.IsIgnored(key) && len(opt.AllowedValues) > 1
}

func (m *Manager) removeAppliance(a *homeconnect.Appliance) {
	m.events.Lock()
	defer m.events.Unlock()

	removed := m.entities.RemoveAppliance(a.HaID)
	if len(removed) == 0 {
		return
	}
	m.logger.Info("Appliance selects released",
		zap.String("ha_id", a.HaID),
		zap.Int("count", len(removed)))
	if m.remover != nil {
		m.remover.RemoveEntities(removed)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
