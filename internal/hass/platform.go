// Package hass is the host platform: it displays entities in Home Assistant
// through MQTT discovery, keeps their state topics current and routes select
// commands back to the entities.
package hass

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"homeconnect-bridge/internal/clock"
	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/metrics"
	"homeconnect-bridge/internal/mqtt"
)

const (
	defaultCommandTimeout = 15 * time.Second
	notifyTimeout         = 10 * time.Second
)

// Options configures a Platform
type Options struct {
	DiscoveryPrefix string
	// CommandTimeout bounds a single select write
	CommandTimeout time.Duration
	// Debounce coalesces state writes of one entity; zero publishes immediately
	Debounce time.Duration
	// ReadOnly ignores every command
	ReadOnly bool
}

// EntityState is the last state published for an entity
type EntityState struct {
	UniqueID  string          `json:"unique_id"`
	Platform  entity.Platform `json:"platform"`
	Name      string          `json:"name"`
	HaID      string          `json:"ha_id,omitempty"`
	State     string          `json:"state"`
	Available bool            `json:"available"`
	Options   []string        `json:"options,omitempty"`
}

type record struct {
	entity       entity.Entity
	config       string
	state        string
	availability string
}

// Platform implements entity.Host and entity.Remover on top of MQTT discovery
type Platform struct {
	client   mqtt.ClientAPI
	notifier Notifier
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     Options

	mu      sync.Mutex
	records map[string]*record
	timers  map[string]clock.Timer

	publishMu sync.Mutex
}

// NewPlatform creates a platform publishing through client. notifier and m may be nil.
func NewPlatform(client mqtt.ClientAPI, notifier Notifier, clk clock.Clock, m *metrics.Metrics, opts Options, logger *zap.Logger) *Platform {
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Platform{
		client:   client,
		notifier: notifier,
		clock:    clk,
		metrics:  m,
		logger:   logger.Named("hass"),
		opts:     opts,
		records:  make(map[string]*record),
		timers:   make(map[string]clock.Timer),
	}
}

func (p *Platform) birthTopic() string {
	return p.opts.DiscoveryPrefix + "/status"
}

// Start listens for Home Assistant restarts so discovery can be replayed
func (p *Platform) Start() error {
	return p.client.Subscribe(p.birthTopic(), func(_ string, payload []byte) {
		if string(payload) != mqtt.PayloadOnline {
			return
		}
		p.logger.Info("Home Assistant came online, republishing entities")
		p.Republish()
	})
}

// Stop cancels pending writes and drops the platform subscriptions. Published
// entities stay retained on the broker.
func (p *Platform) Stop() {
	p.mu.Lock()
	for uid, t := range p.timers {
		t.Stop()
		delete(p.timers, uid)
	}
	var commandTopics []string
	for uid, rec := range p.records {
		if _, ok := rec.entity.(entity.Selectable); ok {
			commandTopics = append(commandTopics, commandTopic(uid))
		}
	}
	p.mu.Unlock()

	for _, topic := range commandTopics {
		if err := p.client.Unsubscribe(topic); err != nil {
			p.logger.Warn("Failed to unsubscribe", zap.String("topic", topic), zap.Error(err))
		}
	}
	if err := p.client.Unsubscribe(p.birthTopic()); err != nil {
		p.logger.Warn("Failed to unsubscribe", zap.String("topic", p.birthTopic()), zap.Error(err))
	}
}

// AddEntities displays a batch of new entities
func (p *Platform) AddEntities(entities []entity.Entity) {
	for _, e := range entities {
		if e == nil {
			continue
		}
		uid := e.UniqueID()

		p.mu.Lock()
		prev, replaced := p.records[uid]
		p.records[uid] = &record{entity: e}
		p.mu.Unlock()

		if replaced && prev.entity != e {
			prev.entity.Removed()
		}

		if _, ok := e.(entity.Selectable); ok {
			if err := p.client.Subscribe(commandTopic(uid), p.commandHandler(uid)); err != nil {
				p.logger.Error("Failed to subscribe command topic",
					zap.String("unique_id", uid),
					zap.Error(err))
			}
		}

		e.Added(p)
		p.flush(uid)
		p.logger.Debug("Entity added",
			zap.String("unique_id", uid),
			zap.String("platform", string(e.Platform())))
	}
	p.updateGauges()
}

// RemoveEntities clears the retained topics of entities and detaches them
func (p *Platform) RemoveEntities(entities []entity.Entity) {
	for _, e := range entities {
		if e == nil {
			continue
		}
		uid := e.UniqueID()

		p.mu.Lock()
		rec, ok := p.records[uid]
		if ok && rec.entity == e {
			delete(p.records, uid)
		}
		if t, pending := p.timers[uid]; pending {
			t.Stop()
			delete(p.timers, uid)
		}
		p.mu.Unlock()

		if _, isSelect := e.(entity.Selectable); isSelect {
			if err := p.client.Unsubscribe(commandTopic(uid)); err != nil {
				p.logger.Warn("Failed to unsubscribe command topic",
					zap.String("unique_id", uid),
					zap.Error(err))
			}
		}

		p.publishMu.Lock()
		for _, topic := range []string{
			configTopic(p.opts.DiscoveryPrefix, e.Platform(), uid),
			stateTopic(uid),
			availabilityTopicOf(uid),
		} {
			p.publish(topic, "")
		}
		p.publishMu.Unlock()

		e.Removed()
		p.logger.Debug("Entity removed", zap.String("unique_id", uid))
	}
	p.updateGauges()
}

// WriteState schedules a state publish for the entity. Writes arriving within
// the debounce window are coalesced.
func (p *Platform) WriteState(uniqueID string) {
	if p.opts.Debounce <= 0 {
		p.flush(uniqueID)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[uniqueID]; !ok {
		return
	}
	if _, pending := p.timers[uniqueID]; pending {
		return
	}
	p.timers[uniqueID] = p.clock.AfterFunc(p.opts.Debounce, func() {
		p.mu.Lock()
		delete(p.timers, uniqueID)
		p.mu.Unlock()
		p.flush(uniqueID)
	})
}

// Republish forgets what was sent and publishes every entity again
func (p *Platform) Republish() {
	p.mu.Lock()
	uids := make([]string, 0, len(p.records))
	for uid, rec := range p.records {
		rec.config, rec.state, rec.availability = "", "", ""
		uids = append(uids, uid)
	}
	p.mu.Unlock()

	sort.Strings(uids)
	for _, uid := range uids {
		p.flush(uid)
	}
}

// Published returns the last published state of every entity, ordered by unique id
func (p *Platform) Published() []EntityState {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]EntityState, 0, len(p.records))
	for uid, rec := range p.records {
		st := EntityState{
			UniqueID:  uid,
			Platform:  rec.entity.Platform(),
			Name:      rec.entity.Name(),
			HaID:      rec.entity.HaID(),
			State:     rec.state,
			Available: rec.availability == mqtt.PayloadOnline,
		}
		if sel, ok := rec.entity.(entity.Selectable); ok {
			st.Options = sel.Options()
		}
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UniqueID < result[j].UniqueID })
	return result
}

// flush publishes whatever changed since the last publish of uniqueID
func (p *Platform) flush(uniqueID string) {
	p.mu.Lock()
	rec, ok := p.records[uniqueID]
	p.mu.Unlock()
	if !ok {
		return
	}

	e := rec.entity
	config, err := buildConfig(e)
	if err != nil {
		p.logger.Error("Failed to build discovery config", zap.String("unique_id", uniqueID), zap.Error(err))
		return
	}
	state := statePayload(e)
	availability := availabilityPayload(e)

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	if p.records[uniqueID] != rec {
		p.mu.Unlock()
		return
	}
	sendConfig := config != "" && config != rec.config
	sendState := state != rec.state
	sendAvailability := availability != rec.availability
	p.mu.Unlock()

	if sendConfig && p.publish(configTopic(p.opts.DiscoveryPrefix, e.Platform(), uniqueID), config) {
		p.mu.Lock()
		rec.config = config
		p.mu.Unlock()
	}
	if sendAvailability && p.publish(availabilityTopicOf(uniqueID), availability) {
		p.mu.Lock()
		rec.availability = availability
		p.mu.Unlock()
	}
	if sendState && p.publish(stateTopic(uniqueID), state) {
		p.mu.Lock()
		rec.state = state
		p.mu.Unlock()
		p.metrics.StateWritten(string(e.Platform()))
	}
}

func (p *Platform) publish(topic, payload string) bool {
	if err := p.client.Publish(topic, []byte(payload), true); err != nil {
		p.logger.Warn("Failed to publish", zap.String("topic", topic), zap.Error(err))
		return false
	}
	return true
}

func (p *Platform) commandHandler(uniqueID string) mqtt.Handler {
	return func(_ string, payload []byte) {
		p.handleCommand(uniqueID, string(payload))
	}
}

func (p *Platform) handleCommand(uniqueID, option string) {
	p.mu.Lock()
	rec, ok := p.records[uniqueID]
	p.mu.Unlock()
	if !ok {
		return
	}
	sel, ok := rec.entity.(entity.Selectable)
	if !ok {
		return
	}

	logger := p.logger.With(zap.String("unique_id", uniqueID), zap.String("option", option))
	if p.opts.ReadOnly {
		logger.Info("Read-only mode, command ignored")
		return
	}
	if !slices.Contains(sel.Options(), option) {
		logger.Warn("Command for unknown option ignored")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.CommandTimeout)
	start := p.clock.Now()
	err := sel.SelectOption(ctx, option)
	cancel()
	p.metrics.ObserveCommand(string(sel.Platform()), err, p.clock.Since(start))

	notifyCtx, notifyCancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer notifyCancel()

	notificationID := "home_connect_" + uniqueID
	if err != nil {
		logger.Error("Command failed", zap.Error(err))
		p.notifier.CommandFailed(notifyCtx, notificationID, err)
		return
	}

	logger.Info("Command applied")
	p.notifier.CommandSucceeded(notifyCtx, notificationID)
	p.WriteState(uniqueID)
}

func (p *Platform) updateGauges() {
	if p.metrics == nil {
		return
	}
	counts := map[entity.Platform]int{entity.PlatformSelect: 0, entity.PlatformSensor: 0}
	p.mu.Lock()
	for _, rec := range p.records {
		counts[rec.entity.Platform()]++
	}
	p.mu.Unlock()

	for platform, n := range counts {
		p.metrics.SetPublished(string(platform), n)
	}
}
