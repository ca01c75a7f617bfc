// Package sensors is the sensor platform: selected program, program option,
// activity option and status sensors per appliance, plus the global service
// status sensor.
package sensors

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"homeconnect-bridge/internal/clock"
	"homeconnect-bridge/internal/config"
	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/homeconnect"
)

// Manager discovers sensor entities when appliances are paired or a program
// starts, and releases them when an appliance is depaired.
type Manager struct {
	hub      *homeconnect.HomeConnect
	entities *entity.Manager
	remover  entity.Remover
	table    *config.Entities
	clock    clock.Clock
	logger   *zap.Logger

	mu   sync.Mutex
	subs []homeconnect.Subscription

	// events serializes discovery and removal passes
	events sync.Mutex
}

// NewManager creates the sensor platform
func NewManager(hub *homeconnect.HomeConnect, host entity.Host, table *config.Entities, clk clock.Clock, logger *zap.Logger) *Manager {
	if table == nil {
		table = config.DefaultEntities()
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	logger = logger.Named("sensors")
	remover, _ := host.(entity.Remover)
	return &Manager{
		hub:      hub,
		entities: entity.NewManager(host, logger),
		remover:  remover,
		table:    table,
		clock:    clk,
		logger:   logger,
	}
}

// Start registers the service status sensor, subscribes to appliance events
// and sets up the appliances already paired.
func (m *Manager) Start() error {
	m.events.Lock()
	m.entities.Add(NewServiceStatusSensor(m.hub))
	m.entities.Register()
	m.events.Unlock()

	m.mu.Lock()
	m.subs = append(m.subs,
		m.hub.Subscribe(m.addAppliance, homeconnect.EventPaired, homeconnect.EventProgramStarted),
		m.hub.Subscribe(m.removeAppliance, homeconnect.EventDepaired),
	)
	m.mu.Unlock()

	for _, a := range m.hub.Appliances() {
		m.addAppliance(a)
	}
	m.logger.Info("Sensor platform started")
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
	m.logger.Info("Sensor platform stopped")
}

// Entities returns the sensors registered with the host
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

	// program sensors need a selection; an appliance that has none yet is
	// picked up again on the next program start
	if snap.HasPrograms() && snap.SelectedProgram != nil {
		m.entities.Add(NewSelectedProgramSensor(a, m.table.DeviceIcon(a.Type)))

		selected := map[string]struct{}{}
		for _, key := range sortedKeys(snap.SelectedProgram.Options) {
			selected[key] = struct{}{}
			if conf, ok := m.optionSensor(key, snap.SelectedProgram.Options[key]); ok {
				m.entities.Add(NewProgramOptionSensor(a, key, conf, m.clock))
			}
		}

		if snap.ActiveProgram != nil {
			for _, key := range sortedKeys(snap.ActiveProgram.Options) {
				if _, ok := selected[key]; ok {
					continue
				}
				if conf, ok := m.optionSensor(key, snap.ActiveProgram.Options[key]); ok {
					m.entities.Add(NewActivityOptionSensor(a, key, conf, m.clock))
				}
			}
		}
	}

	for _, key := range sortedKeys(snap.Status) {
		if conf, ok := m.statusSensor(key, snap.Status[key]); ok {
			m.entities.Add(NewStatusSensor(a, key, conf))
		}
	}

	m.entities.Register()
}

// optionSensor decides whether a program option gets a sensor. Boolean
// options and options configured for another platform do not.
func (m *Manager) optionSensor(key string, opt *homeconnect.Option) (entity.Conf, bool) {
	if opt == nil || m.table.IsIgnored(key) {
		return entity.Conf{}, false
	}
	conf, configured := m.table.OptionConf(key)
	if configured && conf.Type != "" {
		return conf, conf.Type == string(entity.PlatformSensor)
	}
	return conf, !opt.IsBool()
}

// statusSensor decides whether a status key gets a sensor. Configured keys
// follow their type; the rest get one unless the value is boolean.
func (m *Manager) statusSensor(key string, value any) (entity.Conf, bool) {
	if m.table.IsIgnored(key) {
		return entity.Conf{}, false
	}
	if conf, ok := m.table.StatusConf(key); ok {
		return conf, conf.Type == string(entity.PlatformSensor)
	}
	if _, isBool := value.(bool); isBool {
		return entity.Conf{}, false
	}
	var conf entity.Conf
	if strings.Contains(strings.ToLower(key), "temperature") {
		conf.Class = "temperature"
	}
	return conf, true
}

func (m *Manager) removeAppliance(a *homeconnect.Appliance) {
	m.events.Lock()
	defer m.events.Unlock()

	removed := m.entities.RemoveAppliance(a.HaID)
	if len(removed) == 0 {
		return
	}
	m.logger.Info("Appliance sensors released",
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
