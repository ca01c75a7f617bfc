// Package homeconnect is the boundary to the Home Connect cloud API. It holds the
// paired appliances with their program, option, setting and status catalogs, and
// fires the named events the entity layer subscribes to.
package homeconnect

import (
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ServiceStatus is the global state of the Home Connect client
type ServiceStatus int

const (
	StatusInit ServiceStatus = iota
	StatusLoading
	StatusLoaded
	StatusReady
	StatusBlocked
)

func (s ServiceStatus) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusLoading:
		return "LOADING"
	case StatusLoaded:
		return "LOADED"
	case StatusReady:
		return "READY"
	case StatusBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Description identifies an appliance as listed by the API
type Description struct {
	HaID      string `json:"haId"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	Type      string `json:"type"`
	VIB       string `json:"vib"`
	Connected bool   `json:"connected"`
}

// Discovered is one appliance returned by a refresh pass
type Discovered struct {
	Description Description
	Snapshot    *Snapshot
}

// HomeConnect tracks paired appliances and dispatches service-level events
type HomeConnect struct {
	mu         sync.RWMutex
	appliances map[string]*Appliance
	status     ServiceStatus
	commander  Commander
	callbacks  *callbackRegistry[ApplianceHandler]
	logger     *zap.Logger
}

// New creates an empty HomeConnect hub. Commands of paired appliances go to commander.
func New(commander Commander, logger *zap.Logger) *HomeConnect {
	return &HomeConnect{
		appliances: make(map[string]*Appliance),
		status:     StatusInit,
		commander:  commander,
		callbacks:  newCallbackRegistry[ApplianceHandler](),
		logger:     logger.Named("homeconnect"),
	}
}

// Subscribe registers handler for service-level events (PAIRED, DEPAIRED, ...)
func (h *HomeConnect) Subscribe(handler ApplianceHandler, events ...string) Subscription {
	return h.callbacks.add(handler, events)
}

func (h *HomeConnect) fire(event string, appliance *Appliance) {
	for _, handler := range h.callbacks.handlers(event) {
		handler(appliance)
	}
}

// Appliances returns the paired appliances ordered by haId
func (h *HomeConnect) Appliances() []*Appliance {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]*Appliance, 0, len(h.appliances))
	for _, a := range h.appliances {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].HaID < result[j].HaID })
	return result
}

// Appliance looks up a paired appliance
func (h *HomeConnect) Appliance(haID string) (*Appliance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.appliances[haID]
	return a, ok
}

// Status returns the global service status
func (h *HomeConnect) Status() ServiceStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// SetStatus changes the global status and fires STATUS_CHANGED when it differs
func (h *HomeConnect) SetStatus(status ServiceStatus) {
	h.mu.Lock()
	changed := h.status != status
	h.status = status
	h.mu.Unlock()

	if changed {
		h.logger.Info("Service status changed", zap.String("status", status.String()))
		h.fire(EventStatusChanged, nil)
	}
}

// Pair adds an appliance and fires PAIRED. Pairing an already known haId only
// refreshes its catalog.
func (h *HomeConnect) Pair(a *Appliance) {
	h.mu.Lock()
	if existing, ok := h.appliances[a.HaID]; ok {
		h.mu.Unlock()
		h.Update(existing.HaID, a.Snapshot())
		return
	}
	h.appliances[a.HaID] = a
	h.mu.Unlock()

	a.setCommander(h.commander)
	h.logger.Info("Appliance paired",
		zap.String("ha_id", a.HaID),
		zap.String("type", a.Type),
		zap.String("brand", a.Brand))
	h.fire(EventPaired, a)
}

// Depair removes an appliance and fires DEPAIRED. Unknown ids are ignored.
func (h *HomeConnect) Depair(haID string) {
	h.mu.Lock()
	a, ok := h.appliances[haID]
	if ok {
		delete(h.appliances, haID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	h.logger.Info("Appliance depaired", zap.String("ha_id", haID))
	h.fire(EventDepaired, a)
	a.setCommander(nil)
}

// Update swaps in a new catalog for a paired appliance and fires the events
// describing the difference.
func (h *HomeConnect) Update(haID string, next *Snapshot) {
	a, ok := h.Appliance(haID)
	if !ok {
		return
	}
	if next == nil {
		next = &Snapshot{}
	}
	prev := a.SetSnapshot(next)

	changedKeys := diffValues(prev, next)
	connectionChanged := prev.Connected != next.Connected
	programsChanged := !reflect.DeepEqual(prev.AvailablePrograms, next.AvailablePrograms)

	if connectionChanged {
		a.Notify(EventConnectionChanged, next.Connected)
	}
	for _, key := range sortedKeys(changedKeys) {
		a.Notify(key, changedKeys[key])
	}

	selectedChanged := programKey(prev.SelectedProgram) != programKey(next.SelectedProgram)
	activeChanged := programKey(prev.ActiveProgram) != programKey(next.ActiveProgram)

	if connectionChanged || programsChanged || selectedChanged || activeChanged || len(changedKeys) > 0 {
		a.Notify(EventDataChanged, nil)
	}

	if selectedChanged && next.SelectedProgram != nil {
		h.fire(EventProgramSelected, a)
	}
	if activeChanged {
		if next.ActiveProgram != nil {
			h.fire(EventProgramStarted, a)
		} else {
			h.fire(EventProgramFinished, a)
		}
	}
}

// Sync reconciles the paired set with a full refresh: new appliances are paired,
// known ones updated and missing ones depaired.
func (h *HomeConnect) Sync(discovered []Discovered) {
	seen := make(map[string]struct{}, len(discovered))

	for _, d := range discovered {
		seen[d.Description.HaID] = struct{}{}
		var snap Snapshot
		if d.Snapshot != nil {
			snap = *d.Snapshot
		}
		snap.Connected = d.Description.Connected

		if _, ok := h.Appliance(d.Description.HaID); ok {
			h.Update(d.Description.HaID, &snap)
			continue
		}

		a := NewAppliance(d.Description.HaID, d.Description.Name, d.Description.Brand, d.Description.Type, d.Description.VIB)
		a.SetSnapshot(&snap)
		h.Pair(a)
	}

	for _, a := range h.Appliances() {
		if _, ok := seen[a.HaID]; !ok {
			h.Depair(a.HaID)
		}
	}
}

func programKey(p *Program) string {
	if p == nil {
		return ""
	}
	return p.Key
}

// diffValues collects every status, setting and program option key whose value
// differs between two snapshots, mapped to its new value.
func diffValues(prev, next *Snapshot) map[string]any {
	changed := make(map[string]any)

	compare := func(key string, before, after any, present bool) {
		if !reflect.DeepEqual(before, after) {
			if present {
				changed[key] = after
			} else {
				changed[key] = nil
			}
		}
	}

	for key, after := range next.Status {
		before, _ := prev.StatusValue(key)
		compare(key, before, after, true)
	}
	for key, before := range prev.Status {
		if _, ok := next.Status[key]; !ok {
			compare(key, before, nil, false)
		}
	}

	optionSets := []struct{ before, after map[string]*Option }{
		{prev.Settings, next.Settings},
		{optionsOf(prev.SelectedProgram), optionsOf(next.SelectedProgram)},
		{optionsOf(prev.ActiveProgram), optionsOf(next.ActiveProgram)},
	}
	for _, set := range optionSets {
		for key, after := range set.after {
			if after == nil {
				continue
			}
			var before any
			if opt, ok := set.before[key]; ok && opt != nil {
				before = opt.Value
			}
			compare(key, before, after.Value, true)
		}
		for key, before := range set.before {
			if _, ok := set.after[key]; !ok && before != nil {
				compare(key, before.Value, nil, false)
			}
		}
	}

	return changed
}

func optionsOf(p *Program) map[string]*Option {
	if p == nil {
		return nil
	}
	return p.Options
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
