package entity

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Host is the platform entities are registered with
type Host interface {
	// AddEntities displays a batch of new entities
	AddEntities(entities []Entity)
}

// Remover is implemented by hosts that can tear down displayed entities
type Remover interface {
	RemoveEntities(entities []Entity)
}

// Manager hands every distinct entity to the host exactly once. Discovery
// passes may offer the same candidates repeatedly; Add drops anything already
// registered or pending, and Register flushes the rest in one host call.
//
// One Manager exists per platform session.
type Manager struct {
	host   Host
	logger *zap.Logger

	mu          sync.Mutex
	registered  map[string]Entity
	pending     map[string]Entity
	order       []string
	byAppliance map[string]map[string]struct{}
}

// NewManager creates a manager registering with host
func NewManager(host Host, logger *zap.Logger) *Manager {
	return &Manager{
		host:        host,
		logger:      logger.Named("entities"),
		registered:  make(map[string]Entity),
		pending:     make(map[string]Entity),
		byAppliance: make(map[string]map[string]struct{}),
	}
}

// Add queues a candidate for the next Register. Nil candidates, candidates
// without a unique id and ids that are already registered or pending are ignored.
func (m *Manager) Add(candidate Entity) {
	if candidate == nil {
		return
	}
	uniqueID := candidate.UniqueID()
	if uniqueID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registered[uniqueID]; ok {
		return
	}
	if _, ok := m.pending[uniqueID]; ok {
		return
	}
	m.pending[uniqueID] = candidate
	m.order = append(m.order, uniqueID)
}

// Register flushes the pending batch to the host in a single call, which
// happens even when the batch is empty.
func (m *Manager) Register() {
	m.mu.Lock()
	batch := make([]Entity, 0, len(m.order))
	for _, uniqueID := range m.order {
		e := m.pending[uniqueID]
		ids, ok := m.byAppliance[e.HaID()]
		if !ok {
			ids = make(map[string]struct{})
			m.byAppliance[e.HaID()] = ids
		}
		ids[uniqueID] = struct{}{}
		m.registered[uniqueID] = e
		batch = append(batch, e)
	}
	m.pending = make(map[string]Entity)
	m.order = nil
	m.mu.Unlock()

	if len(batch) > 0 {
		m.logger.Debug("Registering entities", zap.Int("count", len(batch)))
	}
	m.host.AddEntities(batch)
}

// RemoveAppliance stops tracking every entity of the appliance so a later
// pairing registers them again. It returns the entities that were dropped;
// untracked appliances return nil.
func (m *Manager) RemoveAppliance(haID string) []Entity {
	haID = NormalizeID(haID)

	m.mu.Lock()
	defer m.mu.Unlock()

	ids, ok := m.byAppliance[haID]
	if !ok {
		return nil
	}

	removed := make([]Entity, 0, len(ids))
	for uniqueID := range ids {
		if e, ok := m.registered[uniqueID]; ok {
			removed = append(removed, e)
			delete(m.registered, uniqueID)
		}
	}
	delete(m.byAppliance, haID)
	sort.Slice(removed, func(i, j int) bool { return removed[i].UniqueID() < removed[j].UniqueID() })

	m.logger.Debug("Appliance entities released",
		zap.String("ha_id", haID),
		zap.Int("count", len(removed)))
	return removed
}

// IsRegistered reports whether uniqueID has been handed to the host
func (m *Manager) IsRegistered(uniqueID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registered[uniqueID]
	return ok
}

// PendingCount returns the number of candidates waiting for Register
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ApplianceIDs returns the registered unique ids owned by an appliance, sorted
func (m *Manager) ApplianceIDs(haID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byAppliance[NormalizeID(haID)]
	result := make([]string, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Entities returns every registered entity ordered by unique id
func (m *Manager) Entities() []Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Entity, 0, len(m.registered))
	for _, e := range m.registered {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UniqueID() < result[j].UniqueID() })
	return result
}
