package sensors

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homeconnect-bridge/internal/clock"
	"homeconnect-bridge/internal/config"
	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/hass"
	"homeconnect-bridge/internal/homeconnect"
	"homeconnect-bridge/pkg/testutil"
)

const washer = "siemens_wm14t6h9_68a40e2e1f6c"

var (
	selectedID    = washer + "_selected_program"
	temperatureID = washer + "_laundrycare_washer_option_temperature"
	spinSpeedID   = washer + "_laundrycare_washer_option_spinspeed"
	durationID    = washer + "_bsh_common_option_duration"
	operationID   = washer + "_bsh_common_status_operationstate"
	remainingID   = washer + "_bsh_common_option_remainingprogramtime"
	progressID    = washer + "_bsh_common_option_programprogress"

	pairedIDs = []string{selectedID, temperatureID, spinSpeedID, durationID, operationID}
)

type recordingHost struct {
	mu      sync.Mutex
	batches [][]entity.Entity
	removed []entity.Entity
}

func (h *recordingHost) AddEntities(batch []entity.Entity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, append([]entity.Entity(nil), batch...))
}

func (h *recordingHost) RemoveEntities(entities []entity.Entity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, entities...)
}

func ids(entities []entity.Entity) []string {
	result := make([]string, 0, len(entities))
	for _, e := range entities {
		result = append(result, e.UniqueID())
	}
	return result
}

func newWasher(snap *homeconnect.Snapshot) *homeconnect.Appliance {
	desc := testutil.WasherDescription()
	a := homeconnect.NewAppliance(desc.HaID, desc.Name, desc.Brand, desc.Type, desc.VIB)
	a.SetSnapshot(snap)
	return a
}

func newManager(hub *homeconnect.HomeConnect, host entity.Host) *Manager {
	return NewManager(hub, host, nil, clock.NewMockClock(testutil.StartTime), zap.NewNop())
}

func TestManager_StartRegistersServiceStatus(t *testing.T) {
	hub := homeconnect.New(homeconnect.NewMockCommander(), zap.NewNop())
	host := &recordingHost{}
	m := newManager(hub, host)
	require.NoError(t, m.Start())
	defer m.Stop()

	require.Len(t, host.batches, 1)
	assert.Equal(t, []string{ServiceStatusID}, ids(host.batches[0]))
}

func TestManager_DiscoveryOnPairAndProgramStart(t *testing.T) {
	hub := homeconnect.New(homeconnect.NewMockCommander(), zap.NewNop())
	host := &recordingHost{}
	m := newManager(hub, host)
	require.NoError(t, m.Start())
	defer m.Stop()

	a := newWasher(testutil.WasherSnapshot())
	hub.Pair(a)
	require.Len(t, host.batches, 2)
	assert.ElementsMatch(t, pairedIDs, ids(host.batches[1]))

	hub.Update(a.HaID, testutil.RunningWasherSnapshot())
	require.Len(t, host.batches, 3)
	assert.ElementsMatch(t, []string{remainingID, progressID}, ids(host.batches[2]),
		"only options the selected program lacks become activity sensors")

	// a second start of the same program adds nothing
	hub.Update(a.HaID, testutil.WasherSnapshot())
	hub.Update(a.HaID, testutil.RunningWasherSnapshot())
	require.Len(t, host.batches, 4)
	assert.Empty(t, host.batches[3])
}

func TestManager_NoProgramSensorsWithoutSelection(t *testing.T) {
	tests := []struct {
		name string
		snap func() *homeconnect.Snapshot
	}{
		{"idle", testutil.WasherSnapshot},
		{"running", testutil.RunningWasherSnapshot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := homeconnect.New(homeconnect.NewMockCommander(), zap.NewNop())
			host := &recordingHost{}
			m := newManager(hub, host)
			require.NoError(t, m.Start())
			defer m.Stop()

			snap := tt.snap()
			snap.SelectedProgram = nil
			a := newWasher(snap)
			hub.Pair(a)

			require.Len(t, host.batches, 2)
			assert.Equal(t, []string{operationID}, ids(host.batches[1]))

			// selecting and starting a program discovers the program sensors
			hub.Update(a.HaID, testutil.WasherSnapshot())
			hub.Update(a.HaID, testutil.RunningWasherSnapshot())
			require.Len(t, host.batches, 3)
			assert.ElementsMatch(t,
				[]string{selectedID, temperatureID, spinSpeedID, durationID, remainingID, progressID},
				ids(host.batches[2]))
		})
	}
}

func TestManager_DepairKeepsServiceStatus(t *testing.T) {
	hub := homeconnect.New(homeconnect.NewMockCommander(), zap.NewNop())
	host := &recordingHost{}
	m := newManager(hub, host)
	require.NoError(t, m.Start())
	defer m.Stop()

	a := newWasher(testutil.RunningWasherSnapshot())
	hub.Pair(a)
	hub.Depair(a.HaID)

	assert.ElementsMatch(t,
		append([]string{remainingID, progressID}, pairedIDs...),
		ids(host.removed))
	assert.Equal(t, []string{ServiceStatusID}, ids(m.Entities()))

	hub.Pair(newWasher(testutil.WasherSnapshot()))
	require.Len(t, host.batches, 3)
	assert.ElementsMatch(t, pairedIDs, ids(host.batches[2]))
}

func TestManager_StatusAndOptionFiltering(t *testing.T) {
	snap := testutil.WasherSnapshot()
	snap.Status["Refrigeration.Common.Status.Temperature"] = float64(4)
	snap.Status["BSH.Common.Status.LocalControlActive"] = false

	hub := homeconnect.New(homeconnect.NewMockCommander(), zap.NewNop())
	hub.Pair(newWasher(snap))

	table := config.DefaultEntities()
	table.Ignore = append(table.Ignore, testutil.OptionSpinSpeed)
	host := &recordingHost{}
	m := NewManager(hub, host, table, nil, zap.NewNop())
	require.NoError(t, m.Start())
	defer m.Stop()

	require.Len(t, host.batches, 2)
	got := ids(host.batches[1])
	assert.NotContains(t, got, spinSpeedID, "ignored key")
	assert.NotContains(t, got, washer+"_laundrycare_washer_option_idos1active", "boolean option")
	assert.NotContains(t, got, washer+"_bsh_common_status_remotecontrolactive", "boolean status")
	assert.NotContains(t, got, washer+"_bsh_common_status_localcontrolactive", "boolean status")
	assert.NotContains(t, got, washer+"_bsh_common_status_doorstate", "configured for another platform")

	var fridgeTemp entity.Entity
	for _, e := range host.batches[1] {
		if e.UniqueID() == washer+"_refrigeration_common_status_temperature" {
			fridgeTemp = e
		}
	}
	require.NotNil(t, fridgeTemp)
	assert.Equal(t, "temperature", fridgeTemp.DeviceClass())
	assert.Equal(t, "mdi:gauge-full", fridgeTemp.Icon())
}

func TestManager_StopUnsubscribes(t *testing.T) {
	hub := homeconnect.New(homeconnect.NewMockCommander(), zap.NewNop())
	host := &recordingHost{}
	m := newManager(hub, host)
	require.NoError(t, m.Start())
	m.Stop()

	hub.Pair(newWasher(testutil.WasherSnapshot()))
	assert.Len(t, host.batches, 1)
}

func TestSensors_EndToEnd(t *testing.T) {
	env := testutil.NewTestEnv(hass.Options{})
	defer env.Cleanup()

	p, err := createPlugin(env.PluginContext())
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	a := env.PairWasher()

	tests := []struct {
		uid  string
		want string
	}{
		{uid: selectedID, want: testutil.ProgramCotton},
		{uid: temperatureID, want: "40°C"},
		{uid: spinSpeedID, want: testutil.Spin1400},
		{uid: durationID, want: "1:30"},
		{uid: operationID, want: testutil.OperationReady},
		{uid: ServiceStatusID, want: "INIT"},
	}
	for _, tt := range tests {
		state, ok := env.State(tt.uid)
		require.True(t, ok, tt.uid)
		assert.Equal(t, tt.want, state, tt.uid)
	}

	cfg, ok := env.Config(entity.PlatformSensor, selectedID)
	require.True(t, ok)
	assert.Equal(t, "Siemens Washer - Selected Program", cfg["name"])
	assert.Equal(t, "mdi:washing-machine", cfg["icon"])

	env.Update(a.HaID, testutil.RunningWasherSnapshot())

	state, _ := env.State(remainingID)
	assert.Equal(t, "2024-03-01T13:00:00Z", state)
	state, _ = env.State(progressID)
	assert.Equal(t, "25", state)
	cfg, _ = env.Config(entity.PlatformSensor, remainingID)
	assert.Equal(t, "timestamp", cfg["device_class"])
	cfg, _ = env.Config(entity.PlatformSensor, progressID)
	assert.Equal(t, "%", cfg["unit_of_measurement"])
	state, _ = env.State(operationID)
	assert.Equal(t, testutil.OperationRun, state)

	env.Hub.SetStatus(homeconnect.StatusReady)
	state, _ = env.State(ServiceStatusID)
	assert.Equal(t, "READY", state)

	env.Depair(a.HaID)
	assert.Equal(t, []string{ServiceStatusID}, env.PublishedIDs(entity.PlatformSensor))
}

func TestCreatePlugin_RequiresHubAndHost(t *testing.T) {
	_, err := createPlugin(nil)
	assert.Error(t, err)

	env := testutil.NewTestEnv(hass.Options{})
	defer env.Cleanup()
	ctx := env.PluginContext()
	ctx.Host = nil
	_, err = createPlugin(ctx)
	assert.Error(t, err)
}

func TestProgramOptionSensor_Values(t *testing.T) {
	clk := clock.NewMockClock(testutil.StartTime)

	tests := []struct {
		name      string
		conf      entity.Conf
		option    *homeconnect.Option
		wantValue any
		wantUnit  string
	}{
		{
			name:      "timestamp from remaining seconds",
			conf:      entity.Conf{Class: "timestamp"},
			option:    &homeconnect.Option{Value: float64(90), Unit: "seconds"},
			wantValue: testutil.StartTime.Add(90 * time.Second),
		},
		{
			name:      "timespan as hours and minutes",
			conf:      entity.Conf{Class: entity.Domain + "__timespan"},
			option:    &homeconnect.Option{Value: float64(8100), Unit: "seconds"},
			wantValue: "2:15",
		},
		{
			name:      "grams shown as kilograms",
			option:    &homeconnect.Option{Value: float64(3540), Unit: "gram"},
			wantValue: 3.5,
			wantUnit:  "kg",
		},
		{
			name:      "display value wins over raw value",
			option:    &homeconnect.Option{Value: "Cooking.Oven.EnumType.Level.High", DisplayValue: "High"},
			wantValue: "High",
		},
		{
			name:      "on and off enums",
			option:    &homeconnect.Option{Value: "BSH.Common.EnumType.Switch.Off"},
			wantValue: "Off",
		},
		{
			name:      "raw numeric value with unit",
			option:    &homeconnect.Option{Value: float64(45), Unit: "°C"},
			wantValue: float64(45),
			wantUnit:  "°C",
		},
		{
			name:      "configured unit overrides the reported one",
			conf:      entity.Conf{Unit: "rpm"},
			option:    &homeconnect.Option{Value: float64(1200), Unit: "1/min"},
			wantValue: float64(1200),
			wantUnit:  "rpm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const key = "Test.Option.Value"
			tt.option.Key = key
			snap := testutil.WasherSnapshot()
			snap.SelectedProgram.Options[key] = tt.option

			s := NewProgramOptionSensor(newWasher(snap), key, tt.conf, clk)
			v, ok := s.NativeValue()
			require.True(t, ok)
			assert.Equal(t, tt.wantValue, v)
			assert.Equal(t, tt.wantUnit, s.Unit())
			assert.True(t, s.Available())
		})
	}
}

func TestProgramOptionSensor_PrefersActiveProgram(t *testing.T) {
	a := newWasher(testutil.WasherSnapshot())
	s := NewProgramOptionSensor(a, testutil.OptionTemperature, entity.Conf{}, nil)

	assert.Equal(t, "Siemens Washer - Temperature", s.Name())
	assert.Equal(t, entity.Domain+"__options", s.DeviceClass())
	assert.Equal(t, "mdi:office-building-cog", s.Icon())

	running := testutil.RunningWasherSnapshot()
	running.ActiveProgram.Options[testutil.OptionTemperature].DisplayValue = "60°C"
	a.SetSnapshot(running)
	v, ok := s.NativeValue()
	require.True(t, ok)
	assert.Equal(t, "60°C", v)

	// nothing running and the selected program lacks the option
	other := testutil.WasherSnapshot()
	other.SelectedProgram = &homeconnect.Program{Key: testutil.ProgramMix}
	a.SetSnapshot(other)
	_, ok = s.NativeValue()
	assert.False(t, ok)
	assert.False(t, s.Available())
	assert.Equal(t, "Siemens Washer - Temperature", s.Name(), "falls back to the key")
}

func TestActivityOptionSensor_Available(t *testing.T) {
	a := newWasher(testutil.RunningWasherSnapshot())
	s := NewActivityOptionSensor(a, testutil.OptionProgress, entity.Conf{Unit: "%"}, nil)
	assert.True(t, s.Available())
	assert.Equal(t, "%", s.Unit())

	a.SetSnapshot(testutil.WasherSnapshot())
	assert.False(t, s.Available())
}

func TestStatusSensor(t *testing.T) {
	a := newWasher(testutil.WasherSnapshot())
	s := NewStatusSensor(a, testutil.StatusOperationState, entity.Conf{Icon: "mdi:state-machine"})

	assert.Equal(t, washer+"_bsh_common_status_operationstate", s.UniqueID())
	assert.Equal(t, entity.Domain+"__status", s.DeviceClass())
	assert.Equal(t, "mdi:state-machine", s.Icon())
	v, ok := s.NativeValue()
	require.True(t, ok)
	assert.Equal(t, testutil.OperationReady, v)

	missing := NewStatusSensor(a, "BSH.Common.Status.Missing", entity.Conf{})
	_, ok = missing.NativeValue()
	assert.False(t, ok)
}

func TestServiceStatusSensor(t *testing.T) {
	hub := homeconnect.New(homeconnect.NewMockCommander(), zap.NewNop())
	s := NewServiceStatusSensor(hub)

	assert.Empty(t, s.HaID())
	assert.True(t, s.Available())
	assert.Equal(t, []string{entity.Domain + "_homeconnect"}, s.Device().Identifiers)

	var writes []string
	w := writerFunc(func(uid string) { writes = append(writes, uid) })
	s.Added(w)
	s.Added(w)
	hub.SetStatus(homeconnect.StatusLoading)
	assert.Equal(t, []string{ServiceStatusID}, writes)

	v, _ := s.NativeValue()
	assert.Equal(t, "LOADING", v)

	s.Removed()
	hub.SetStatus(homeconnect.StatusReady)
	assert.Len(t, writes, 1)
}

type writerFunc func(string)

func (f writerFunc) WriteState(uid string) { f(uid) }
