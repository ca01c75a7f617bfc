// Package testutil provides an in-memory environment for platform and
// end-to-end tests: a Home Connect hub with a recording commander, the MQTT
// host platform on a mock broker, and appliance fixtures.
package testutil

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"homeconnect-bridge/internal/clock"
	"homeconnect-bridge/internal/config"
	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/ha"
	"homeconnect-bridge/internal/hass"
	"homeconnect-bridge/internal/homeconnect"
	"homeconnect-bridge/internal/metrics"
	"homeconnect-bridge/internal/mqtt"
	"homeconnect-bridge/pkg/plugin"
)

// StartTime is the frozen time of every TestEnv clock
var StartTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// TestEnv wires the hub, the host platform and their fakes together
type TestEnv struct {
	Hub       *homeconnect.HomeConnect
	Commander *homeconnect.MockCommander
	Broker    *mqtt.MockClient
	HA        *ha.MockClient
	Clock     *clock.MockClock
	Metrics   *metrics.Metrics
	Platform  *hass.Platform
	Entities  *config.Entities
	Logger    *zap.Logger
}

// NewTestEnv creates and starts an environment. The HA mock starts connected.
func NewTestEnv(opts hass.Options) *TestEnv {
	logger := zap.NewNop()
	env := &TestEnv{
		Commander: homeconnect.NewMockCommander(),
		Broker:    mqtt.NewMockClient(),
		HA:        ha.NewMockClient(),
		Clock:     clock.NewMockClock(StartTime),
		Metrics:   metrics.New(),
		Entities:  config.DefaultEntities(),
		Logger:    logger,
	}
	env.Hub = homeconnect.New(env.Commander, logger)
	env.HA.Connect()
	env.Platform = hass.NewPlatform(env.Broker, hass.NewHANotifier(env.HA, logger), env.Clock, env.Metrics, opts, logger)
	env.Platform.Start()
	return env
}

// PluginContext returns the context platforms are created with
func (e *TestEnv) PluginContext() *plugin.Context {
	return plugin.NewContext(e.Hub, e.Platform, e.Entities, e.Clock, e.Logger, false)
}

// Pair adds an appliance with the given catalog and fires PAIRED
func (e *TestEnv) Pair(desc homeconnect.Description, snap *homeconnect.Snapshot) *homeconnect.Appliance {
	a := homeconnect.NewAppliance(desc.HaID, desc.Name, desc.Brand, desc.Type, desc.VIB)
	if snap == nil {
		snap = &homeconnect.Snapshot{}
	}
	snap.Connected = desc.Connected
	a.SetSnapshot(snap)
	e.Hub.Pair(a)
	return a
}

// PairWasher pairs the washer fixture
func (e *TestEnv) PairWasher() *homeconnect.Appliance {
	return e.Pair(WasherDescription(), WasherSnapshot())
}

// Update replaces the catalog of a paired appliance
func (e *TestEnv) Update(haID string, snap *homeconnect.Snapshot) {
	e.Hub.Update(haID, snap)
}

// Depair removes an appliance and fires DEPAIRED
func (e *TestEnv) Depair(haID string) {
	e.Hub.Depair(haID)
}

// State returns the retained state payload of an entity
func (e *TestEnv) State(uniqueID string) (string, bool) {
	p, ok := e.Broker.Retained("home_connect/" + uniqueID + "/state")
	return string(p), ok
}

// Availability returns the retained availability payload of an entity
func (e *TestEnv) Availability(uniqueID string) (string, bool) {
	p, ok := e.Broker.Retained("home_connect/" + uniqueID + "/availability")
	return string(p), ok
}

// Config returns the decoded retained discovery config of an entity
func (e *TestEnv) Config(platform entity.Platform, uniqueID string) (map[string]any, bool) {
	p, ok := e.Broker.Retained(hass.DefaultDiscoveryPrefix + "/" + string(platform) + "/home_connect/" + uniqueID + "/config")
	if !ok {
		return nil, false
	}
	var cfg map[string]any
	if err := json.Unmarshal(p, &cfg); err != nil {
		return nil, false
	}
	return cfg, true
}

// Command delivers a select command and reports whether the topic was subscribed
func (e *TestEnv) Command(uniqueID, option string) bool {
	return e.Broker.Deliver("home_connect/"+uniqueID+"/set", []byte(option))
}

// PublishedIDs returns the unique ids of the published entities of a platform
func (e *TestEnv) PublishedIDs(platform entity.Platform) []string {
	var ids []string
	for _, st := range e.Platform.Published() {
		if st.Platform == platform {
			ids = append(ids, st.UniqueID)
		}
	}
	return ids
}

// Cleanup stops the host platform
func (e *TestEnv) Cleanup() {
	e.Platform.Stop()
}
