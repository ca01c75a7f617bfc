package selects

import (
	"errors"

	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/pkg/plugin"
)

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        "selects",
		Description: "Program, program option and setting selects",
		Priority:    plugin.PriorityDefault,
		Order:       10,
		Factory:     createPlugin,
	})
}

func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	if ctx == nil || ctx.Hub == nil {
		return nil, errors.New("selects plugin requires a Home Connect hub")
	}
	if ctx.Host == nil {
		return nil, errors.New("selects plugin requires a host")
	}
	return &pluginAdapter{manager: NewManager(ctx.Hub, ctx.Host, ctx.Entities, ctx.Logger)}, nil
}

// pluginAdapter wraps the Manager to implement plugin.Plugin
type pluginAdapter struct {
	manager *Manager
}

func (p *pluginAdapter) Name() string              { return "selects" }
func (p *pluginAdapter) Start() error              { return p.manager.Start() }
func (p *pluginAdapter) Stop()                     { p.manager.Stop() }
func (p *pluginAdapter) Entities() []entity.Entity { return p.manager.Entities() }
