package sensors

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"homeconnect-bridge/internal/clock"
	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/homeconnect"
)

const (
	// ServiceStatusID is the unique id of the global service status sensor
	ServiceStatusID = "homeconnect_status"

	defaultOptionIcon = "mdi:office-building-cog"
	defaultStatusIcon = "mdi:gauge-full"
	classTimestamp    = "timestamp"
	classTimespan     = "timespan"
	unitGram          = "gram"
)

// SelectedProgramSensor shows the key of the selected program
type SelectedProgramSensor struct {
	*entity.Base
}

// NewSelectedProgramSensor creates the selected program sensor of an appliance
func NewSelectedProgramSensor(a *homeconnect.Appliance, icon string) *SelectedProgramSensor {
	conf := entity.Conf{Class: entity.Domain + "__programs", Icon: icon}
	base := entity.NewBase(a, "", conf).WithUniqueID(entity.NormalizeID(a.HaID) + "_selected_program")
	return &SelectedProgramSensor{Base: base}
}

func (s *SelectedProgramSensor) Platform() entity.Platform { return entity.PlatformSensor }
func (s *SelectedProgramSensor) Name() string              { return s.DisplayName("Selected Program") }
func (s *SelectedProgramSensor) Unit() string              { return "" }

func (s *SelectedProgramSensor) NativeValue() (any, bool) {
	snap := s.Snapshot()
	if snap.SelectedProgram == nil {
		return nil, false
	}
	return snap.SelectedProgram.Key, true
}

// ProgramOptionSensor shows an option of the running program, or of the
// selected one while nothing runs.
type ProgramOptionSensor struct {
	*entity.Base
	clock clock.Clock
}

// NewProgramOptionSensor creates the sensor of a program option key
func NewProgramOptionSensor(a *homeconnect.Appliance, key string, conf entity.Conf, clk clock.Clock) *ProgramOptionSensor {
	if conf.Class == "" {
		conf.Class = entity.Domain + "__options"
	}
	if conf.Icon == "" {
		conf.Icon = defaultOptionIcon
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &ProgramOptionSensor{Base: entity.NewBase(a, key, conf), clock: clk}
}

func (s *ProgramOptionSensor) Platform() entity.Platform { return entity.PlatformSensor }

// Name prefers the option name reported for the selected program
func (s *ProgramOptionSensor) Name() string {
	if opt, ok := s.Snapshot().SelectedOption(s.Key()); ok {
		return s.DisplayName(opt.Name)
	}
	return s.DisplayName("")
}

func (s *ProgramOptionSensor) Available() bool {
	_, ok := s.Snapshot().SelectedOption(s.Key())
	return ok && s.Base.Available()
}

// internalUnit is the unit before conversion: the configured one, else the
// one reported by the active or selected program.
func (s *ProgramOptionSensor) internalUnit() string {
	if unit := s.Conf().Unit; unit != "" {
		return unit
	}
	snap := s.Snapshot()
	if opt, ok := snap.ActiveOption(s.Key()); ok {
		return opt.Unit
	}
	if opt, ok := snap.SelectedOption(s.Key()); ok {
		return opt.Unit
	}
	return ""
}

func (s *ProgramOptionSensor) Unit() string {
	class := s.DeviceClass()
	if class == classTimestamp || strings.Contains(class, classTimespan) {
		return ""
	}
	unit := s.internalUnit()
	if unit == unitGram {
		return "kg"
	}
	return unit
}

func (s *ProgramOptionSensor) NativeValue() (any, bool) {
	snap := s.Snapshot()
	program := snap.ActiveProgram
	if program == nil {
		program = snap.SelectedProgram
	}
	opt, ok := program.Option(s.Key())
	if !ok {
		return nil, false
	}
	return s.format(opt)
}

func (s *ProgramOptionSensor) format(opt *homeconnect.Option) (any, bool) {
	class := s.DeviceClass()
	seconds, numeric := toFloat(opt.Value)

	switch {
	case class == classTimestamp:
		if !numeric {
			return nil, false
		}
		return s.clock.Now().Add(time.Duration(seconds * float64(time.Second))), true
	case strings.Contains(class, classTimespan):
		if !numeric {
			return nil, false
		}
		return formatTimespan(seconds), true
	case s.internalUnit() == unitGram && numeric:
		return math.Round(seconds/100) / 10, true
	case opt.DisplayValue != "":
		return opt.DisplayValue, true
	}

	if str, ok := opt.Value.(string); ok {
		if strings.HasSuffix(str, ".Off") {
			return "Off", true
		}
		if strings.HasSuffix(str, ".On") {
			return "On", true
		}
	}
	if opt.Value == nil {
		return nil, false
	}
	return opt.Value, true
}

// ActivityOptionSensor shows an option that only the running program reports
type ActivityOptionSensor struct {
	*ProgramOptionSensor
}

// NewActivityOptionSensor creates the sensor of an active program option key
func NewActivityOptionSensor(a *homeconnect.Appliance, key string, conf entity.Conf, clk clock.Clock) *ActivityOptionSensor {
	return &ActivityOptionSensor{ProgramOptionSensor: NewProgramOptionSensor(a, key, conf, clk)}
}

func (s *ActivityOptionSensor) Available() bool {
	_, ok := s.Snapshot().ActiveOption(s.Key())
	return ok
}

// StatusSensor shows a raw status value
type StatusSensor struct {
	*entity.Base
}

// NewStatusSensor creates the sensor of a status key
func NewStatusSensor(a *homeconnect.Appliance, key string, conf entity.Conf) *StatusSensor {
	if conf.Class == "" {
		conf.Class = entity.Domain + "__status"
	}
	if conf.Icon == "" {
		conf.Icon = defaultStatusIcon
	}
	return &StatusSensor{Base: entity.NewBase(a, key, conf)}
}

func (s *StatusSensor) Platform() entity.Platform { return entity.PlatformSensor }
func (s *StatusSensor) Unit() string              { return s.Conf().Unit }

func (s *StatusSensor) NativeValue() (any, bool) {
	v, ok := s.Snapshot().StatusValue(s.Key())
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ServiceStatusSensor reports the global status of the Home Connect client
type ServiceStatusSensor struct {
	hub *homeconnect.HomeConnect

	mu  sync.Mutex
	sub homeconnect.Subscription
}

// NewServiceStatusSensor creates the global status sensor
func NewServiceStatusSensor(hub *homeconnect.HomeConnect) *ServiceStatusSensor {
	return &ServiceStatusSensor{hub: hub}
}

func (s *ServiceStatusSensor) UniqueID() string          { return ServiceStatusID }
func (s *ServiceStatusSensor) HaID() string              { return "" }
func (s *ServiceStatusSensor) Platform() entity.Platform { return entity.PlatformSensor }
func (s *ServiceStatusSensor) Name() string              { return "Home Connect Status" }
func (s *ServiceStatusSensor) Available() bool           { return true }
func (s *ServiceStatusSensor) DeviceClass() string       { return "" }
func (s *ServiceStatusSensor) Icon() string              { return "mdi:cloud-outline" }
func (s *ServiceStatusSensor) Unit() string              { return "" }

func (s *ServiceStatusSensor) Device() entity.DeviceInfo {
	return entity.DeviceInfo{
		Identifiers:  []string{entity.Domain + "_homeconnect"},
		Name:         "Home Connect Service",
		Manufacturer: "BSH",
	}
}

func (s *ServiceStatusSensor) NativeValue() (any, bool) {
	return s.hub.Status().String(), true
}

// Added follows STATUS_CHANGED. Repeated calls keep one subscription.
func (s *ServiceStatusSensor) Added(w entity.StateWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return
	}
	s.sub = s.hub.Subscribe(func(*homeconnect.Appliance) {
		w.WriteState(ServiceStatusID)
	}, homeconnect.EventStatusChanged)
}

func (s *ServiceStatusSensor) Removed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

func formatTimespan(seconds float64) string {
	total := int(seconds)
	minutes := total / 60
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
