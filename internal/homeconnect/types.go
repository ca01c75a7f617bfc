package homeconnect

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Well-known keys used by the entity layer
const (
	KeyRemoteControlActive = "BSH.Common.Status.RemoteControlActive"
	KeyOperationState      = "BSH.Common.Status.OperationState"
)

// Option is a typed field of a program, or a setting of an appliance
type Option struct {
	Key           string   `json:"key"`
	Name          string   `json:"name,omitempty"`
	Value         any      `json:"value,omitempty"`
	DisplayValue  string   `json:"displayvalue,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	AllowedValues []string `json:"allowedvalues,omitempty"`
}

// IsBool reports whether the option carries a boolean value
func (o *Option) IsBool() bool {
	_, ok := o.Value.(bool)
	return ok
}

// Program is a named operating mode with its options
type Program struct {
	Key     string             `json:"key"`
	Name    string             `json:"name,omitempty"`
	Options map[string]*Option `json:"options,omitempty"`
}

// Option returns the option with the given key, if the program has it
func (p *Program) Option(key string) (*Option, bool) {
	if p == nil || p.Options == nil {
		return nil, false
	}
	opt, ok := p.Options[key]
	return opt, ok && opt != nil
}

// Snapshot is an immutable view of an appliance catalog.
// A refresh builds a new Snapshot and swaps it in; never mutate a published one.
type Snapshot struct {
	Connected         bool
	AvailablePrograms map[string]*Program
	SelectedProgram   *Program
	ActiveProgram     *Program
	Settings          map[string]*Option
	Status            map[string]any
}

// AvailableProgram returns the catalog entry for a program key
func (s *Snapshot) AvailableProgram(key string) (*Program, bool) {
	if s == nil || s.AvailablePrograms == nil {
		return nil, false
	}
	p, ok := s.AvailablePrograms[key]
	return p, ok && p != nil
}

// HasPrograms reports whether any program is available
func (s *Snapshot) HasPrograms() bool {
	return s != nil && len(s.AvailablePrograms) > 0
}

// SelectedOption returns an option of the selected program
func (s *Snapshot) SelectedOption(key string) (*Option, bool) {
	if s == nil {
		return nil, false
	}
	return s.SelectedProgram.Option(key)
}

// ActiveOption returns an option of the active program
func (s *Snapshot) ActiveOption(key string) (*Option, bool) {
	if s == nil {
		return nil, false
	}
	return s.ActiveProgram.Option(key)
}

// Setting returns a setting by key
func (s *Snapshot) Setting(key string) (*Option, bool) {
	if s == nil || s.Settings == nil {
		return nil, false
	}
	opt, ok := s.Settings[key]
	return opt, ok && opt != nil
}

// StatusValue returns a raw status value by key
func (s *Snapshot) StatusValue(key string) (any, bool) {
	if s == nil || s.Status == nil {
		return nil, false
	}
	v, ok := s.Status[key]
	return v, ok
}

// RemoteControlAllowed is true unless the appliance reports remote control as inactive.
// Appliances that do not publish the status at all are treated as controllable.
func (s *Snapshot) RemoteControlAllowed() bool {
	v, ok := s.StatusValue(KeyRemoteControlActive)
	if !ok {
		return true
	}
	active, isBool := v.(bool)
	return !isBool || active
}

// ProgramOptionAvailable reports whether a program option can currently be changed:
// the option belongs to the selected program, that program is in the available catalog
// with the option, nothing is running and remote control is allowed.
func (s *Snapshot) ProgramOptionAvailable(key string) bool {
	if s == nil || !s.Connected || s.SelectedProgram == nil || s.ActiveProgram != nil {
		return false
	}
	if _, ok := s.SelectedProgram.Option(key); !ok {
		return false
	}
	program, ok := s.AvailableProgram(s.SelectedProgram.Key)
	if !ok {
		return false
	}
	if _, ok := program.Option(key); !ok {
		return false
	}
	return s.RemoteControlAllowed()
}

// Commander executes appliance commands against the cloud API
type Commander interface {
	SelectProgram(ctx context.Context, haID, key string) error
	SetOption(ctx context.Context, haID, key string, value any) error
	ApplySetting(ctx context.Context, haID, key string, value any) error
}

// Appliance is a paired device. Identity fields never change; the catalog is
// replaced as a whole on every refresh.
type Appliance struct {
	HaID  string `json:"haId"`
	Name  string `json:"name"`
	Brand string `json:"brand"`
	Type  string `json:"type"`
	VIB   string `json:"vib"`

	snapshot  atomic.Pointer[Snapshot]
	commander Commander
	callbacks *callbackRegistry[UpdateHandler]

	mu sync.Mutex
}

// NewAppliance creates an appliance with an empty, disconnected catalog
func NewAppliance(haID, name, brand, applianceType, vib string) *Appliance {
	a := &Appliance{
		HaID:      haID,
		Name:      name,
		Brand:     brand,
		Type:      applianceType,
		VIB:       vib,
		callbacks: newCallbackRegistry[UpdateHandler](),
	}
	a.snapshot.Store(&Snapshot{})
	return a
}

// Snapshot returns the current catalog. It is never nil.
func (a *Appliance) Snapshot() *Snapshot {
	return a.snapshot.Load()
}

// SetSnapshot swaps in a new catalog and returns the previous one
func (a *Appliance) SetSnapshot(s *Snapshot) *Snapshot {
	if s == nil {
		s = &Snapshot{}
	}
	return a.snapshot.Swap(s)
}

// Connected reports the current connectivity flag
func (a *Appliance) Connected() bool {
	return a.Snapshot().Connected
}

// DisplayName is the appliance name, falling back to its type
func (a *Appliance) DisplayName() string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.Type
}

// Subscribe registers handler for the given event names and field keys
func (a *Appliance) Subscribe(handler UpdateHandler, keys ...string) Subscription {
	return a.callbacks.add(handler, keys)
}

// Notify invokes the handlers subscribed to key
func (a *Appliance) Notify(key string, value any) {
	for _, h := range a.callbacks.handlers(key) {
		h(a, key, value)
	}
}

func (a *Appliance) setCommander(c Commander) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commander = c
}

func (a *Appliance) getCommander() (Commander, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.commander == nil {
		return nil, &Error{Code: "unpaired", Description: "appliance is not paired"}
	}
	return a.commander, nil
}

// SelectProgram selects a program on the appliance
func (a *Appliance) SelectProgram(ctx context.Context, key string) error {
	c, err := a.getCommander()
	if err != nil {
		return err
	}
	return c.SelectProgram(ctx, a.HaID, key)
}

// SetOption changes an option of the selected program
func (a *Appliance) SetOption(ctx context.Context, key string, value any) error {
	c, err := a.getCommander()
	if err != nil {
		return err
	}
	return c.SetOption(ctx, a.HaID, key, value)
}

// ApplySetting changes an appliance setting
func (a *Appliance) ApplySetting(ctx context.Context, key string, value any) error {
	c, err := a.getCommander()
	if err != nil {
		return err
	}
	return c.ApplySetting(ctx, a.HaID, key, value)
}
