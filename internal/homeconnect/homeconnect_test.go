package homeconnect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func washerSnapshot() *Snapshot {
	return &Snapshot{
		Connected: true,
		AvailablePrograms: map[string]*Program{
			"LaundryCare.Washer.Program.Cotton": {
				Key: "LaundryCare.Washer.Program.Cotton",
				Options: map[string]*Option{
					"LaundryCare.Washer.Option.Temperature": {
						Key:           "LaundryCare.Washer.Option.Temperature",
						AllowedValues: []string{"LaundryCare.Washer.EnumType.Temperature.GC30", "LaundryCare.Washer.EnumType.Temperature.GC40"},
					},
				},
			},
		},
		Settings: map[string]*Option{
			"BSH.Common.Setting.PowerState": {Key: "BSH.Common.Setting.PowerState", Value: "BSH.Common.EnumType.PowerState.On"},
		},
		Status: map[string]any{
			"BSH.Common.Status.DoorState": "BSH.Common.EnumType.DoorState.Closed",
			KeyRemoteControlActive:        true,
		},
	}
}

type eventRecorder struct {
	events []string
}

func (r *eventRecorder) subscribe(hc *HomeConnect, events ...string) {
	for _, ev := range events {
		ev := ev
		hc.Subscribe(func(a *Appliance) {
			r.events = append(r.events, ev)
		}, ev)
	}
}

func TestHomeConnect_SyncPairsAndDepairs(t *testing.T) {
	hc := New(NewMockCommander(), zap.NewNop())
	rec := &eventRecorder{}
	rec.subscribe(hc, EventPaired, EventDepaired)

	hc.Sync([]Discovered{{
		Description: Description{HaID: "SIEMENS-WM14-1234", Brand: "Siemens", Type: "Washer", Connected: true},
		Snapshot:    washerSnapshot(),
	}})

	require.Len(t, hc.Appliances(), 1)
	a, ok := hc.Appliance("SIEMENS-WM14-1234")
	require.True(t, ok)
	assert.True(t, a.Connected())
	assert.Equal(t, []string{EventPaired}, rec.events)

	hc.Sync(nil)
	assert.Empty(t, hc.Appliances())
	assert.Equal(t, []string{EventPaired, EventDepaired}, rec.events)
}

func TestHomeConnect_UpdateFiresProgramEvents(t *testing.T) {
	hc := New(NewMockCommander(), zap.NewNop())
	a := NewAppliance("washer-1", "", "Bosch", "Washer", "WAT28")
	a.SetSnapshot(washerSnapshot())
	hc.Pair(a)

	rec := &eventRecorder{}
	rec.subscribe(hc, EventProgramSelected, EventProgramStarted, EventProgramFinished)

	selected := washerSnapshot()
	selected.SelectedProgram = &Program{Key: "LaundryCare.Washer.Program.Cotton"}
	hc.Update("washer-1", selected)
	assert.Equal(t, []string{EventProgramSelected}, rec.events)

	running := washerSnapshot()
	running.SelectedProgram = selected.SelectedProgram
	running.ActiveProgram = &Program{Key: "LaundryCare.Washer.Program.Cotton"}
	hc.Update("washer-1", running)
	assert.Equal(t, []string{EventProgramSelected, EventProgramStarted}, rec.events)

	done := washerSnapshot()
	done.SelectedProgram = selected.SelectedProgram
	hc.Update("washer-1", done)
	assert.Equal(t, []string{EventProgramSelected, EventProgramStarted, EventProgramFinished}, rec.events)
}

func TestHomeConnect_UpdateNotifiesChangedKeys(t *testing.T) {
	hc := New(NewMockCommander(), zap.NewNop())
	a := NewAppliance("washer-1", "Washer", "Bosch", "Washer", "WAT28")
	a.SetSnapshot(washerSnapshot())
	hc.Pair(a)

	var keys []string
	sub := a.Subscribe(func(_ *Appliance, key string, _ any) {
		keys = append(keys, key)
	}, EventDataChanged, EventConnectionChanged, "BSH.Common.Status.DoorState")

	next := washerSnapshot()
	next.Status["BSH.Common.Status.DoorState"] = "BSH.Common.EnumType.DoorState.Open"
	hc.Update("washer-1", next)
	assert.Equal(t, []string{"BSH.Common.Status.DoorState", EventDataChanged}, keys)

	// identical catalog fires nothing
	keys = nil
	hc.Update("washer-1", next)
	assert.Empty(t, keys)

	offline := washerSnapshot()
	offline.Status["BSH.Common.Status.DoorState"] = "BSH.Common.EnumType.DoorState.Open"
	offline.Connected = false
	hc.Update("washer-1", offline)
	assert.Equal(t, []string{EventConnectionChanged, EventDataChanged}, keys)

	sub.Unsubscribe()
	sub.Unsubscribe()
	keys = nil
	hc.Update("washer-1", washerSnapshot())
	assert.Empty(t, keys)
}

func TestHomeConnect_StatusChanged(t *testing.T) {
	hc := New(NewMockCommander(), zap.NewNop())
	count := 0
	hc.Subscribe(func(a *Appliance) {
		assert.Nil(t, a)
		count++
	}, EventStatusChanged)

	hc.SetStatus(StatusLoading)
	hc.SetStatus(StatusLoading)
	hc.SetStatus(StatusReady)

	assert.Equal(t, 2, count)
	assert.Equal(t, "READY", hc.Status().String())
}

func TestAppliance_CommandsRequirePairing(t *testing.T) {
	a := NewAppliance("dryer-1", "", "Bosch", "Dryer", "WTX87")
	err := a.SelectProgram(context.Background(), "LaundryCare.Dryer.Program.Cotton")

	var hcErr *Error
	require.ErrorAs(t, err, &hcErr)
	assert.Equal(t, "unpaired", hcErr.Code)

	commander := NewMockCommander()
	hc := New(commander, zap.NewNop())
	hc.Pair(a)

	require.NoError(t, a.SetOption(context.Background(), "LaundryCare.Dryer.Option.DryingTarget", "LaundryCare.Dryer.EnumType.DryingTarget.CupboardDry"))
	cmds := commander.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "set_option", cmds[0].Action)
	assert.Equal(t, "dryer-1", cmds[0].HaID)
}

func TestSnapshot_CapabilityQueries(t *testing.T) {
	var nilSnap *Snapshot
	_, ok := nilSnap.Setting("x")
	assert.False(t, ok)
	assert.True(t, nilSnap.RemoteControlAllowed())
	assert.False(t, nilSnap.ProgramOptionAvailable("x"))

	s := washerSnapshot()
	tempKey := "LaundryCare.Washer.Option.Temperature"
	assert.False(t, s.ProgramOptionAvailable(tempKey), "no selected program")

	s.SelectedProgram = &Program{
		Key:     "LaundryCare.Washer.Program.Cotton",
		Options: map[string]*Option{tempKey: {Key: tempKey, Value: "LaundryCare.Washer.EnumType.Temperature.GC40"}},
	}
	assert.True(t, s.ProgramOptionAvailable(tempKey))

	s.Status[KeyRemoteControlActive] = false
	assert.False(t, s.RemoteControlAllowed())
	assert.False(t, s.ProgramOptionAvailable(tempKey))

	s.Status[KeyRemoteControlActive] = true
	s.ActiveProgram = &Program{Key: "LaundryCare.Washer.Program.Cotton"}
	assert.False(t, s.ProgramOptionAvailable(tempKey), "program running")
}
