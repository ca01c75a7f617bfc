package plugin

import (
	"go.uber.org/zap"

	"homeconnect-bridge/internal/clock"
	"homeconnect-bridge/internal/config"
	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/homeconnect"
)

// Context carries the dependencies shared by every platform
type Context struct {
	// Hub holds the paired appliances and fires PAIRED, DEPAIRED and the
	// program events platforms react to.
	Hub *homeconnect.HomeConnect

	// Host displays the entities. Each platform wraps it in its own
	// entity.Manager.
	Host entity.Host

	// Entities is the special-entity table (ignored keys, overrides, icons)
	Entities *config.Entities

	// Clock is used for time-derived sensor values
	Clock clock.Clock

	// Logger should be namespaced by the plugin with logger.Named
	Logger *zap.Logger

	// ReadOnly is passed through for plugins that would otherwise write
	ReadOnly bool
}

// NewContext creates a context, filling in defaults for the optional fields
func NewContext(hub *homeconnect.HomeConnect, host entity.Host, entities *config.Entities, clk clock.Clock, logger *zap.Logger, readOnly bool) *Context {
	if entities == nil {
		entities = config.DefaultEntities()
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Hub:      hub,
		Host:     host,
		Entities: entities,
		Clock:    clk,
		Logger:   logger,
		ReadOnly: readOnly,
	}
}
