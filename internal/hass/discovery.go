package hass

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/mqtt"
)

const (
	// DefaultDiscoveryPrefix is the Home Assistant MQTT discovery prefix
	DefaultDiscoveryPrefix = "homeassistant"
	// BaseTopic prefixes every state, availability and command topic
	BaseTopic = "home_connect"
	// BridgeStatusTopic carries the bridge last will
	BridgeStatusTopic = BaseTopic + "/bridge/status"

	nodeID      = "home_connect"
	payloadNone = "None"
)

// Device classes Home Assistant accepts for MQTT sensors. Integration-specific
// classes stay visible through the API but are not sent in discovery.
var sensorDeviceClasses = map[string]struct{}{
	"battery":     {},
	"duration":    {},
	"energy":      {},
	"enum":        {},
	"humidity":    {},
	"power":       {},
	"temperature": {},
	"timestamp":   {},
	"volume":      {},
	"water":       {},
	"weight":      {},
}

type availabilityTopic struct {
	Topic string `json:"topic"`
}

type deviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type originConfig struct {
	Name string `json:"name"`
}

// discoveryConfig is the retained payload of a config topic
type discoveryConfig struct {
	Name             string              `json:"name"`
	UniqueID         string              `json:"unique_id"`
	ObjectID         string              `json:"object_id"`
	StateTopic       string              `json:"state_topic"`
	CommandTopic     string              `json:"command_topic,omitempty"`
	Availability     []availabilityTopic `json:"availability"`
	AvailabilityMode string              `json:"availability_mode"`
	Options          []string            `json:"options,omitempty"`
	DeviceClass      string              `json:"device_class,omitempty"`
	Unit             string              `json:"unit_of_measurement,omitempty"`
	Icon             string              `json:"icon,omitempty"`
	Device           *deviceConfig       `json:"device,omitempty"`
	Origin           originConfig        `json:"origin"`
}

func configTopic(prefix string, platform entity.Platform, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, platform, nodeID, uniqueID)
}

func stateTopic(uniqueID string) string {
	return BaseTopic + "/" + uniqueID + "/state"
}

func availabilityTopicOf(uniqueID string) string {
	return BaseTopic + "/" + uniqueID + "/availability"
}

func commandTopic(uniqueID string) string {
	return BaseTopic + "/" + uniqueID + "/set"
}

// buildConfig renders the discovery payload of e. A select without options has
// no valid config yet and returns "".
func buildConfig(e entity.Entity) (string, error) {
	uid := e.UniqueID()
	cfg := discoveryConfig{
		Name:       e.Name(),
		UniqueID:   uid,
		ObjectID:   uid,
		StateTopic: stateTopic(uid),
		Availability: []availabilityTopic{
			{Topic: BridgeStatusTopic},
			{Topic: availabilityTopicOf(uid)},
		},
		AvailabilityMode: "all",
		Icon:             e.Icon(),
		Origin:           originConfig{Name: "homeconnect-bridge"},
	}

	if dev := e.Device(); len(dev.Identifiers) > 0 {
		cfg.Device = &deviceConfig{
			Identifiers:  dev.Identifiers,
			Name:         dev.Name,
			Manufacturer: dev.Manufacturer,
			Model:        dev.Model,
		}
	}

	switch v := e.(type) {
	case entity.Selectable:
		opts := v.Options()
		if len(opts) == 0 {
			return "", nil
		}
		cfg.Options = opts
		cfg.CommandTopic = commandTopic(uid)
	case entity.Sensor:
		if _, ok := sensorDeviceClasses[e.DeviceClass()]; ok {
			cfg.DeviceClass = e.DeviceClass()
		}
		cfg.Unit = v.Unit()
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode discovery config of %s: %w", uid, err)
	}
	return string(data), nil
}

// statePayload renders the current value of e. Absent values become "None",
// which Home Assistant shows as unknown.
func statePayload(e entity.Entity) string {
	switch v := e.(type) {
	case entity.Selectable:
		if opt, ok := v.CurrentOption(); ok {
			return opt
		}
	case entity.Sensor:
		if value, ok := v.NativeValue(); ok {
			return formatValue(value)
		}
	}
	return payloadNone
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return payloadNone
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "on"
		}
		return "off"
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

func availabilityPayload(e entity.Entity) string {
	if e.Available() {
		return mqtt.PayloadOnline
	}
	return mqtt.PayloadOffline
}
