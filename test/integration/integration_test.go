package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homeconnect-bridge/internal/clock"
	"homeconnect-bridge/internal/config"
	"homeconnect-bridge/internal/entity"
	"homeconnect-bridge/internal/ha"
	"homeconnect-bridge/internal/hass"
	"homeconnect-bridge/internal/homeconnect"
	"homeconnect-bridge/internal/metrics"
	"homeconnect-bridge/internal/mqtt"
	_ "homeconnect-bridge/internal/plugins/selects"
	_ "homeconnect-bridge/internal/plugins/sensors"
	"homeconnect-bridge/pkg/plugin"
	"homeconnect-bridge/pkg/testutil"
)

const testToken = "test_token_12345"

const (
	washer     = "siemens_wm14t6h9_68a40e2e1f6c"
	programsID = washer + "_programs"
	selectedID = washer + "_selected_program"
)

// fakeSource plays the Home Connect API for the refresher
type fakeSource struct {
	mu        sync.Mutex
	descs     []homeconnect.Description
	snapshots map[string]*homeconnect.Snapshot
}

func (f *fakeSource) ListAppliances(context.Context) ([]homeconnect.Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]homeconnect.Description(nil), f.descs...), nil
}

func (f *fakeSource) LoadSnapshot(_ context.Context, desc homeconnect.Description) (*homeconnect.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[desc.HaID], nil
}

func (f *fakeSource) set(descs []homeconnect.Description, snapshots map[string]*homeconnect.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descs = descs
	f.snapshots = snapshots
}

// countingHost records how often each entity was handed to the platform
type countingHost struct {
	*hass.Platform

	mu    sync.Mutex
	added map[string]int
}

func (h *countingHost) AddEntities(entities []entity.Entity) {
	h.mu.Lock()
	for _, e := range entities {
		h.added[e.UniqueID()]++
	}
	h.mu.Unlock()
	h.Platform.AddEntities(entities)
}

func (h *countingHost) counts() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make(map[string]int, len(h.added))
	for k, v := range h.added {
		result[k] = v
	}
	return result
}

type bridge struct {
	server    *MockHAServer
	haClient  *ha.Client
	broker    *mqtt.MockClient
	commander *homeconnect.MockCommander
	hub       *homeconnect.HomeConnect
	platform  *hass.Platform
	host      *countingHost
	plugins   []plugin.Plugin
	source    *fakeSource
	refresher *homeconnect.Refresher
	metrics   *metrics.Metrics
}

func setupBridge(t *testing.T) *bridge {
	t.Helper()
	logger := zap.NewNop()

	server := NewMockHAServer(testToken)
	t.Cleanup(server.Close)

	haClient := ha.NewClient(server.URL(), testToken, logger)
	require.NoError(t, haClient.Connect())
	t.Cleanup(func() { haClient.Disconnect() })

	b := &bridge{
		server:    server,
		haClient:  haClient,
		broker:    mqtt.NewMockClient(),
		commander: homeconnect.NewMockCommander(),
		source:    &fakeSource{},
		metrics:   metrics.New(),
	}
	b.hub = homeconnect.New(b.commander, logger)
	b.refresher = homeconnect.NewRefresher(b.source, b.hub, "", logger).WithObserver(b.metrics.RefreshDone)

	clk := clock.NewMockClock(testutil.StartTime)
	b.platform = hass.NewPlatform(b.broker, hass.NewHANotifier(haClient, logger), clk, b.metrics, hass.Options{}, logger)
	require.NoError(t, b.platform.Start())
	t.Cleanup(b.platform.Stop)
	b.host = &countingHost{Platform: b.platform, added: make(map[string]int)}

	plugins, err := plugin.CreateAll(plugin.NewContext(b.hub, b.host, config.DefaultEntities(), clk, logger, false))
	require.NoError(t, err)
	require.NoError(t, plugin.StartAll(plugins))
	t.Cleanup(func() { plugin.StopAll(plugins) })
	b.plugins = plugins

	return b
}

func (b *bridge) pairWasher(t *testing.T) {
	t.Helper()
	b.source.set(
		[]homeconnect.Description{testutil.WasherDescription()},
		map[string]*homeconnect.Snapshot{testutil.WasherHaID: testutil.WasherSnapshot()},
	)
	require.NoError(t, b.refresher.Refresh(context.Background()))
}

func (b *bridge) depairAll(t *testing.T) {
	t.Helper()
	b.source.set(nil, nil)
	require.NoError(t, b.refresher.Refresh(context.Background()))
}

func (b *bridge) configTopic(platform entity.Platform, uid string) string {
	return hass.DefaultDiscoveryPrefix + "/" + string(platform) + "/home_connect/" + uid + "/config"
}

func (b *bridge) publishedIDs() []string {
	var ids []string
	for _, st := range b.platform.Published() {
		ids = append(ids, st.UniqueID)
	}
	return ids
}

// TestBridgeLifecycle pairs, controls, depairs and re-pairs an appliance
func TestBridgeLifecycle(t *testing.T) {
	b := setupBridge(t)

	t.Run("refresh pairs and registers", func(t *testing.T) {
		b.pairWasher(t)

		assert.Equal(t, homeconnect.StatusReady, b.hub.Status())
		_, ok := b.broker.Retained(b.configTopic(entity.PlatformSelect, programsID))
		assert.True(t, ok, "program select discovered")
		_, ok = b.broker.Retained(b.configTopic(entity.PlatformSensor, selectedID))
		assert.True(t, ok, "selected program sensor discovered")
		assert.Len(t, b.publishedIDs(), 10)

		state, _ := b.broker.Retained("home_connect/" + sensorStatusID + "/state")
		assert.Equal(t, "READY", string(state))
	})

	t.Run("select a program", func(t *testing.T) {
		require.True(t, b.broker.Deliver("home_connect/"+programsID+"/set", []byte(testutil.ProgramEasyCare)))

		cmds := b.commander.Commands()
		require.Len(t, cmds, 1)
		assert.Equal(t, testutil.ProgramEasyCare, cmds[0].Key)
		assert.Empty(t, b.server.GetServiceCalls(), "success without a prior failure notifies nothing")
	})

	t.Run("repeated refresh registers nothing new", func(t *testing.T) {
		b.broker.Reset()
		require.NoError(t, b.refresher.Refresh(context.Background()))
		assert.Empty(t, b.broker.Messages(hass.DefaultDiscoveryPrefix+"/"), "no new discovery configs")
	})

	t.Run("depair removes every appliance entity", func(t *testing.T) {
		b.depairAll(t)

		_, ok := b.broker.Retained(b.configTopic(entity.PlatformSelect, programsID))
		assert.False(t, ok)
		assert.Equal(t, []string{sensorStatusID}, b.publishedIDs())
		assert.False(t, b.broker.Deliver("home_connect/"+programsID+"/set", []byte(testutil.ProgramMix)),
			"command topic unsubscribed")
	})

	t.Run("re-pair registers again", func(t *testing.T) {
		b.pairWasher(t)
		assert.Len(t, b.publishedIDs(), 10)
		assert.True(t, b.broker.Deliver("home_connect/"+programsID+"/set", []byte(testutil.ProgramMix)))
	})
}

// TestCommandFailureNotification surfaces a rejected command in Home
// Assistant and dismisses it after the next success
func TestCommandFailureNotification(t *testing.T) {
	b := setupBridge(t)
	b.pairWasher(t)

	b.commander.FailWith("select_program", &homeconnect.Error{
		Code:        "409",
		Key:         "SDK.Error.WrongOperationState",
		Description: "Program can not be selected",
	})
	b.broker.Deliver("home_connect/"+programsID+"/set", []byte(testutil.ProgramMix))

	notificationID := "home_connect_" + programsID
	created := FindNotification(b.server.GetServiceCalls(), "create", notificationID)
	require.NotNil(t, created)
	assert.Equal(t, "Home Connect", created.ServiceData["title"])
	assert.Contains(t, created.ServiceData["message"], "Program can not be selected")
	assert.Contains(t, created.ServiceData["message"], "409")

	b.commander.FailWith("select_program", nil)
	b.broker.Deliver("home_connect/"+programsID+"/set", []byte(testutil.ProgramMix))

	assert.NotNil(t, FindNotification(b.server.GetServiceCalls(), "dismiss", notificationID))
	assert.Len(t, FilterServiceCalls(b.server.GetServiceCalls(), "persistent_notification", "create"), 1)
}

// TestUnknownOptionRejected never reaches the appliance
func TestUnknownOptionRejected(t *testing.T) {
	b := setupBridge(t)
	b.pairWasher(t)

	b.broker.Deliver("home_connect/"+programsID+"/set", []byte("LaundryCare.Washer.Program.Unknown"))
	assert.Empty(t, b.commander.Commands())
}

const sensorStatusID = "homeconnect_status"
