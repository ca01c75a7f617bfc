package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"homeconnect-bridge/internal/entity"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EntitiesFile is the optional override file inside the config directory
const EntitiesFile = "entities.yaml"

// Entities is the special-entity table: keys that are ignored, option and
// status keys with custom presentation, and icons per appliance type.
type Entities struct {
	Ignore      []string               `yaml:"ignore"`
	Options     map[string]entity.Conf `yaml:"options"`
	Status      map[string]entity.Conf `yaml:"status"`
	DeviceIcons map[string]string      `yaml:"device_icons"`
}

// DefaultEntities returns the built-in table
func DefaultEntities() *Entities {
	return &Entities{
		Ignore: []string{
			"BSH.Common.Option.FinishInRelative",
			"BSH.Common.Option.StartInRelative",
		},
		Options: map[string]entity.Conf{
			"BSH.Common.Option.RemainingProgramTime": {Class: "timestamp", Icon: "mdi:clock-outline"},
			"BSH.Common.Option.ElapsedProgramTime":   {Class: entity.Domain + "__timespan", Icon: "mdi:clock-outline"},
			"BSH.Common.Option.Duration":             {Class: entity.Domain + "__timespan", Icon: "mdi:clock-outline"},
			"BSH.Common.Option.ProgramProgress":      {Unit: "%", Icon: "mdi:progress-clock"},
		},
		Status: map[string]entity.Conf{
			"BSH.Common.Status.DoorState":      {Type: "binary_sensor", Class: "door"},
			"BSH.Common.Status.OperationState": {Type: "sensor", Icon: "mdi:state-machine"},
		},
		DeviceIcons: map[string]string{
			"Dryer":         "mdi:tumble-dryer",
			"Washer":        "mdi:washing-machine",
			"Dishwasher":    "mdi:dishwasher",
			"CoffeeMaker":   "mdi:coffee-maker",
			"Oven":          "mdi:stove",
			"FridgeFreezer": "mdi:fridge",
			"Fridge":        "mdi:fridge",
			"Refrigerator":  "mdi:fridge",
			"Freezer":       "mdi:fridge",
			"CleaningRobot": "mdi:robot-vacuum",
			"Hood":          "mdi:hvac",
		},
	}
}

// IsIgnored reports whether no entity should be created for key
func (e *Entities) IsIgnored(key string) bool {
	for _, k := range e.Ignore {
		if k == key {
			return true
		}
	}
	return false
}

// OptionConf returns the presentation override of a program option
func (e *Entities) OptionConf(key string) (entity.Conf, bool) {
	conf, ok := e.Options[key]
	return conf, ok
}

// StatusConf returns the presentation override of a status key
func (e *Entities) StatusConf(key string) (entity.Conf, bool) {
	conf, ok := e.Status[key]
	return conf, ok
}

// DeviceIcon returns the icon of an appliance type, or ""
func (e *Entities) DeviceIcon(applianceType string) string {
	return e.DeviceIcons[applianceType]
}

// merge applies overrides on top of e. Ignored keys are appended; map entries
// replace the built-in ones key by key.
func (e *Entities) merge(o *Entities) {
	seen := make(map[string]struct{}, len(e.Ignore))
	for _, k := range e.Ignore {
		seen[k] = struct{}{}
	}
	for _, k := range o.Ignore {
		if _, dup := seen[k]; !dup {
			e.Ignore = append(e.Ignore, k)
			seen[k] = struct{}{}
		}
	}
	for k, v := range o.Options {
		e.Options[k] = v
	}
	for k, v := range o.Status {
		e.Status[k] = v
	}
	for k, v := range o.DeviceIcons {
		e.DeviceIcons[k] = v
	}
}

// Loader reads the special-entity table from the config directory
type Loader struct {
	configDir string
	logger    *zap.Logger

	mu       sync.RWMutex
	entities *Entities
}

// NewLoader creates a loader serving the built-in table until Load is called
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger.Named("config"),
		entities:  DefaultEntities(),
	}
}

// Load reads entities.yaml and merges it over the built-in table. A missing
// file is not an error.
func (l *Loader) Load() error {
	path := filepath.Join(l.configDir, EntitiesFile)
	l.logger.Debug("Loading entity overrides", zap.String("path", path))

	table := DefaultEntities()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Info("No entity overrides found, using built-in table", zap.String("path", path))
		l.set(table)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read entity overrides: %w", err)
	}

	var overrides Entities
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse entity overrides: %w", err)
	}
	table.merge(&overrides)
	l.set(table)

	l.logger.Info("Entity overrides loaded",
		zap.Int("ignored", len(table.Ignore)),
		zap.Int("options", len(table.Options)),
		zap.Int("status", len(table.Status)))
	return nil
}

func (l *Loader) set(e *Entities) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entities = e
}

// Entities returns the current table. Callers must not modify it.
func (l *Loader) Entities() *Entities {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entities
}
