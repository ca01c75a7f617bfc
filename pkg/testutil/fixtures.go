package testutil

import "homeconnect-bridge/internal/homeconnect"

// Keys used by the washer fixture
const (
	WasherHaID = "SIEMENS-WM14T6H9-68A40E2E1F6C"

	ProgramCotton   = "LaundryCare.Washer.Program.Cotton"
	ProgramEasyCare = "LaundryCare.Washer.Program.EasyCare"
	ProgramMix      = "LaundryCare.Washer.Program.Mix"

	OptionTemperature   = "LaundryCare.Washer.Option.Temperature"
	OptionSpinSpeed     = "LaundryCare.Washer.Option.SpinSpeed"
	OptionIDos1Active   = "LaundryCare.Washer.Option.IDos1Active"
	OptionRemainingTime = "BSH.Common.Option.RemainingProgramTime"
	OptionProgress      = "BSH.Common.Option.ProgramProgress"
	OptionDuration      = "BSH.Common.Option.Duration"

	SettingPowerState = "BSH.Common.Setting.PowerState"
	SettingChildLock  = "BSH.Common.Setting.ChildLock"

	StatusOperationState = "BSH.Common.Status.OperationState"
	StatusDoorState      = "BSH.Common.Status.DoorState"
	StatusRemoteControl  = homeconnect.KeyRemoteControlActive

	Temperature40   = "LaundryCare.Washer.EnumType.Temperature.GC40"
	Temperature60   = "LaundryCare.Washer.EnumType.Temperature.GC60"
	TemperatureCold = "LaundryCare.Washer.EnumType.Temperature.Cold"
	Spin800         = "LaundryCare.Washer.EnumType.SpinSpeed.RPM800"
	Spin1400        = "LaundryCare.Washer.EnumType.SpinSpeed.RPM1400"
	PowerOn         = "BSH.Common.EnumType.PowerState.On"
	PowerStandby    = "BSH.Common.EnumType.PowerState.Standby"
	OperationReady  = "BSH.Common.EnumType.OperationState.Ready"
	OperationRun    = "BSH.Common.EnumType.OperationState.Run"
)

// WasherDescription is a connected Siemens washer
func WasherDescription() homeconnect.Description {
	return homeconnect.Description{
		HaID:      WasherHaID,
		Name:      "Washer",
		Brand:     "Siemens",
		Type:      "Washer",
		VIB:       "WM14T6H9",
		Connected: true,
	}
}

// WasherSnapshot returns a fresh catalog: three programs, Cotton selected,
// nothing running, remote control allowed.
func WasherSnapshot() *homeconnect.Snapshot {
	temperature := func(value any) *homeconnect.Option {
		return &homeconnect.Option{
			Key:           OptionTemperature,
			Name:          "Temperature",
			Value:         value,
			AllowedValues: []string{TemperatureCold, Temperature40, Temperature60},
		}
	}
	spin := func(value any) *homeconnect.Option {
		return &homeconnect.Option{
			Key:           OptionSpinSpeed,
			Name:          "Spin speed",
			Value:         value,
			AllowedValues: []string{Spin800, Spin1400},
		}
	}

	return &homeconnect.Snapshot{
		Connected: true,
		AvailablePrograms: map[string]*homeconnect.Program{
			ProgramCotton: {
				Key:  ProgramCotton,
				Name: "Cotton",
				Options: map[string]*homeconnect.Option{
					OptionTemperature: temperature(nil),
					OptionSpinSpeed:   spin(nil),
				},
			},
			ProgramEasyCare: {
				Key:  ProgramEasyCare,
				Name: "Easy care",
				Options: map[string]*homeconnect.Option{
					OptionTemperature: temperature(nil),
				},
			},
			ProgramMix: {
				Key:  ProgramMix,
				Name: "Mix",
				Options: map[string]*homeconnect.Option{
					OptionIDos1Active: {Key: OptionIDos1Active, AllowedValues: []string{"true"}},
				},
			},
		},
		SelectedProgram: &homeconnect.Program{
			Key:  ProgramCotton,
			Name: "Cotton",
			Options: map[string]*homeconnect.Option{
				OptionTemperature: {Key: OptionTemperature, Name: "Temperature", Value: Temperature40, DisplayValue: "40°C"},
				OptionSpinSpeed:   {Key: OptionSpinSpeed, Name: "Spin speed", Value: Spin1400},
				OptionIDos1Active: {Key: OptionIDos1Active, Value: false},
				OptionDuration:    {Key: OptionDuration, Value: float64(5400), Unit: "seconds"},
			},
		},
		Settings: map[string]*homeconnect.Option{
			SettingPowerState: {
				Key:           SettingPowerState,
				Name:          "Power state",
				Value:         PowerOn,
				AllowedValues: []string{PowerOn, PowerStandby},
			},
			SettingChildLock: {Key: SettingChildLock, Value: false},
		},
		Status: map[string]any{
			StatusRemoteControl:  true,
			StatusOperationState: OperationReady,
			StatusDoorState:      "BSH.Common.EnumType.DoorState.Closed",
		},
	}
}

// RunningWasherSnapshot is WasherSnapshot with Cotton running
func RunningWasherSnapshot() *homeconnect.Snapshot {
	snap := WasherSnapshot()
	snap.Status[StatusOperationState] = OperationRun
	snap.ActiveProgram = &homeconnect.Program{
		Key: ProgramCotton,
		Options: map[string]*homeconnect.Option{
			OptionTemperature:   {Key: OptionTemperature, Value: Temperature40, DisplayValue: "40°C"},
			OptionRemainingTime: {Key: OptionRemainingTime, Value: float64(3600), Unit: "seconds"},
			OptionProgress:      {Key: OptionProgress, Value: float64(25), Unit: "%"},
		},
	}
	return snap
}
