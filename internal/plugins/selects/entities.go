package selects

import (
	"context"
	"fmt"
	"sort"

	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/homeconnect"
)

const (
	// KeySelectedProgram is the API key written by program selection
	KeySelectedProgram = "BSH.Common.Root.SelectedProgram"

	defaultOptionIcon  = "mdi:office-building-cog"
	defaultSettingIcon = "mdi:tune"
)

// ProgramSelect chooses the selected program among the available ones
type ProgramSelect struct {
	*entity.Base
}

// NewProgramSelect creates the program select of an appliance. icon is the
// appliance type icon and may be empty.
func NewProgramSelect(a *homeconnect.Appliance, icon string) *ProgramSelect {
	conf := entity.Conf{Class: entity.Domain + "__programs", Icon: icon}
	base := entity.NewBase(a, "", conf).WithUniqueID(entity.NormalizeID(a.HaID) + "_programs")
	return &ProgramSelect{Base: base}
}

func (s *ProgramSelect) Platform() entity.Platform { return entity.PlatformSelect }
func (s *ProgramSelect) Name() string              { return s.DisplayName("Programs") }

// Available requires a connected appliance with programs, nothing running and
// remote control allowed.
func (s *ProgramSelect) Available() bool {
	snap := s.Snapshot()
	return snap.Connected &&
		snap.HasPrograms() &&
		snap.ActiveProgram == nil &&
		snap.RemoteControlAllowed()
}

// Options lists the available program keys
func (s *ProgramSelect) Options() []string {
	snap := s.Snapshot()
	keys := make([]string, 0, len(snap.AvailablePrograms))
	for key := range snap.AvailablePrograms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CurrentOption is the selected program. The API sometimes reports a selected
// program that is not in the available catalog; that one is not shown.
func (s *ProgramSelect) CurrentOption() (string, bool) {
	snap := s.Snapshot()
	if snap.SelectedProgram == nil {
		return "", false
	}
	key := snap.SelectedProgram.Key
	if _, ok := snap.AvailableProgram(key); !ok {
		return "", false
	}
	return key, true
}

func (s *ProgramSelect) SelectOption(ctx context.Context, option string) error {
	err := s.Appliance().SelectProgram(ctx, option)
	return entity.CommandFailed(entity.ActionSelectProgram, KeySelectedProgram, option, err)
}

// OptionSelect changes one option of the selected program
type OptionSelect struct {
	*entity.Base
}

// NewOptionSelect creates the select of a program option key
func NewOptionSelect(a *homeconnect.Appliance, key string, conf entity.Conf) *OptionSelect {
	conf.Class = entity.Domain + "__options"
	if conf.Icon == "" {
		conf.Icon = defaultOptionIcon
	}
	return &OptionSelect{Base: entity.NewBase(a, key, conf)}
}

func (s *OptionSelect) Platform() entity.Platform { return entity.PlatformSelect }

// Name uses the option name of the first available program that has one
func (s *OptionSelect) Name() string {
	snap := s.Snapshot()
	keys := make([]string, 0, len(snap.AvailablePrograms))
	for key := range snap.AvailablePrograms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if opt, ok := snap.AvailablePrograms[key].Option(s.Key()); ok && opt.Name != "" {
			return s.DisplayName(opt.Name)
		}
	}
	return s.DisplayName("")
}

func (s *OptionSelect) Available() bool {
	return s.Snapshot().ProgramOptionAvailable(s.Key())
}

// Options are the allowed values of the option in the selected program plus
// an empty entry.
func (s *OptionSelect) Options() []string {
	snap := s.Snapshot()
	if !snap.ProgramOptionAvailable(s.Key()) {
		return nil
	}
	program, _ := snap.AvailableProgram(snap.SelectedProgram.Key)
	opt, _ := program.Option(s.Key())
	values := make([]string, 0, len(opt.AllowedValues)+1)
	values = append(values, opt.AllowedValues...)
	return append(values, "")
}

func (s *OptionSelect) CurrentOption() (string, bool) {
	snap := s.Snapshot()
	if !snap.ProgramOptionAvailable(s.Key()) {
		return "", false
	}
	opt, _ := snap.SelectedOption(s.Key())
	return valueString(opt.Value), true
}

func (s *OptionSelect) SelectOption(ctx context.Context, option string) error {
	err := s.Appliance().SetOption(ctx, s.Key(), option)
	return entity.CommandFailed(entity.ActionSetOption, s.Key(), option, err)
}

// SettingSelect changes an appliance setting
type SettingSelect struct {
	*entity.Base
}

// NewSettingSelect creates the select of a setting key
func NewSettingSelect(a *homeconnect.Appliance, key string, conf entity.Conf) *SettingSelect {
	conf.Class = entity.Domain + "__settings"
	if conf.Icon == "" {
		conf.Icon = defaultSettingIcon
	}
	return &SettingSelect{Base: entity.NewBase(a, key, conf)}
}

func (s *SettingSelect) Platform() entity.Platform { return entity.PlatformSelect }

func (s *SettingSelect) Name() string {
	if setting, ok := s.Snapshot().Setting(s.Key()); ok && setting.Name != "" {
		return s.DisplayName(setting.Name)
	}
	return s.DisplayName("")
}

func (s *SettingSelect) Available() bool {
	snap := s.Snapshot()
	return snap.Connected && snap.RemoteControlAllowed()
}

func (s *SettingSelect) Options() []string {
	setting, ok := s.Snapshot().Setting(s.Key())
	if !ok {
		return nil
	}
	return append([]string(nil), setting.AllowedValues...)
}

func (s *SettingSelect) CurrentOption() (string, bool) {
	setting, ok := s.Snapshot().Setting(s.Key())
	if !ok || setting.Value == nil {
		return "", false
	}
	return valueString(setting.Value), true
}

func (s *SettingSelect) SelectOption(ctx context.Context, option string) error {
	err := s.Appliance().ApplySetting(ctx, s.Key(), option)
	return entity.CommandFailed(entity.ActionApplySetting, s.Key(), option, err)
}

func valueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
