// Package entity defines the host-facing entity model: the Entity interfaces
// the host platform displays, the Base shared by every appliance entity, and
// the Manager that registers each distinct entity with the host exactly once.
package entity

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"homeconnect-bridge/internal/homeconnect"
)

// Domain prefixes device identifiers and integration-specific device classes
const Domain = "home_connect_alt"

// Platform is the host platform an entity belongs to
type Platform string

const (
	PlatformSelect Platform = "select"
	PlatformSensor Platform = "sensor"
)

// DeviceInfo links an entity to its appliance device in the host
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// Conf overrides the presentation of a specific catalog key
type Conf struct {
	Type  string `yaml:"type,omitempty" json:"type,omitempty"`
	Class string `yaml:"class,omitempty" json:"class,omitempty"`
	Unit  string `yaml:"unit,omitempty" json:"unit,omitempty"`
	Icon  string `yaml:"icon,omitempty" json:"icon,omitempty"`
}

// StateWriter schedules a state write for a displayed entity
type StateWriter interface {
	WriteState(uniqueID string)
}

// Entity is anything the host platform can display
type Entity interface {
	UniqueID() string
	// HaID is the normalized id of the owning appliance, empty for global entities
	HaID() string
	Platform() Platform
	Name() string
	Available() bool
	Device() DeviceInfo
	DeviceClass() string
	Icon() string

	// Added is called by the host once the entity is displayed. Removed is its
	// counterpart; both may be called more than once.
	Added(w StateWriter)
	Removed()
}

// Selectable is an entity with a fixed list of options and a write operation
type Selectable interface {
	Entity
	Options() []string
	CurrentOption() (string, bool)
	SelectOption(ctx context.Context, option string) error
}

// Sensor is a read-only entity with a native value
type Sensor interface {
	Entity
	NativeValue() (any, bool)
	Unit() string
}

// NormalizeID turns an appliance haId into the form used in unique ids
func NormalizeID(haID string) string {
	return strings.ReplaceAll(strings.ToLower(haID), "-", "_")
}

// KeyID turns a dotted catalog key into the form used in unique ids
func KeyID(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), ".", "_")
}

var enumWord = regexp.MustCompile(`[A-Z0-9]+[^A-Z]*`)

// PrettyEnum extracts a display string from a dotted enum value, e.g.
// "Cooking.Oven.Program.HeatingMode.PreHeating" becomes "Pre Heating".
func PrettyEnum(value string) string {
	last := value
	if i := strings.LastIndex(value, "."); i >= 0 {
		last = value[i+1:]
	}
	return strings.Join(enumWord.FindAllString(last, -1), " ")
}

// Base carries the identity, naming and subscription handling shared by every
// appliance entity. Entity types embed *Base and override what differs.
type Base struct {
	appliance *homeconnect.Appliance
	key       string
	uniqueID  string
	conf      Conf

	mu  sync.Mutex
	sub homeconnect.Subscription
}

// NewBase creates the base for the entity projecting key of appliance
func NewBase(appliance *homeconnect.Appliance, key string, conf Conf) *Base {
	return &Base{
		appliance: appliance,
		key:       key,
		uniqueID:  NormalizeID(appliance.HaID) + "_" + KeyID(key),
		conf:      conf,
	}
}

// WithUniqueID replaces the derived unique id
func (b *Base) WithUniqueID(uniqueID string) *Base {
	b.uniqueID = uniqueID
	return b
}

func (b *Base) Appliance() *homeconnect.Appliance { return b.appliance }
func (b *Base) Key() string                       { return b.key }
func (b *Base) Conf() Conf                        { return b.conf }
func (b *Base) UniqueID() string                  { return b.uniqueID }
func (b *Base) HaID() string                      { return NormalizeID(b.appliance.HaID) }
func (b *Base) DeviceClass() string               { return b.conf.Class }
func (b *Base) Icon() string                      { return b.conf.Icon }

// Snapshot returns the current catalog of the appliance
func (b *Base) Snapshot() *homeconnect.Snapshot {
	return b.appliance.Snapshot()
}

// Name is the display name derived from the key
func (b *Base) Name() string {
	return b.DisplayName("")
}

// DisplayName builds "{brand} {name or type} - {suffix}". An empty suffix
// falls back to the pretty-printed key.
func (b *Base) DisplayName(suffix string) string {
	if suffix == "" {
		suffix = PrettyEnum(b.key)
	}
	return b.appliance.Brand + " " + b.appliance.DisplayName() + " - " + suffix
}

// Available follows the appliance connectivity
func (b *Base) Available() bool {
	return b.appliance.Connected()
}

// Device links the entity to its appliance
func (b *Base) Device() DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{Domain + "_" + b.HaID()},
		Name:         b.appliance.DisplayName(),
		Manufacturer: b.appliance.Brand,
		Model:        b.appliance.VIB,
	}
}

// Added subscribes to connectivity, data and key changes of the appliance so
// every change schedules a state write. Repeated calls keep one subscription.
func (b *Base) Added(w StateWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return
	}
	events := []string{homeconnect.EventConnectionChanged, homeconnect.EventDataChanged}
	if b.key != "" {
		events = append(events, b.key)
	}
	uniqueID := b.uniqueID
	b.sub = b.appliance.Subscribe(func(_ *homeconnect.Appliance, _ string, _ any) {
		w.WriteState(uniqueID)
	}, events...)
}

// Removed drops the subscription made by Added
func (b *Base) Removed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		b.sub.Unsubscribe()
		b.sub = nil
	}
}

// Subscribed reports whether the entity currently listens to appliance events
func (b *Base) Subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub != nil
}
