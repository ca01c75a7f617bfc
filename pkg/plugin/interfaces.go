// Package plugin is the platform setup registry. Each entity platform
// registers itself from an init() function; the binary selects platforms by
// importing their packages and instantiates them all with CreateAll.
package plugin

import "homeconnect-bridge/internal/entity"

// Plugin sets up one entity platform for the lifetime of the process
type Plugin interface {
	// Name returns the unique identifier used for registration and logging
	Name() string

	// Start subscribes to appliance events and registers the entities of the
	// appliances already paired.
	Start() error

	// Stop drops every subscription made by Start. Entities already handed to
	// the host stay displayed.
	Stop()
}

// EntityProvider is implemented by plugins that can list the entities they
// have registered with the host.
type EntityProvider interface {
	Entities() []entity.Entity
}

// Factory creates a plugin instance from the shared context
type Factory func(ctx *Context) (Plugin, error)
