package entity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEntity struct {
	uniqueID string
	haID     string
}

func (s *stubEntity) UniqueID() string    { return s.uniqueID }
func (s *stubEntity) HaID() string        { return s.haID }
func (s *stubEntity) Platform() Platform  { return PlatformSensor }
func (s *stubEntity) Name() string        { return s.uniqueID }
func (s *stubEntity) Available() bool     { return true }
func (s *stubEntity) Device() DeviceInfo  { return DeviceInfo{} }
func (s *stubEntity) DeviceClass() string { return "" }
func (s *stubEntity) Icon() string        { return "" }
func (s *stubEntity) Added(_ StateWriter) {}
func (s *stubEntity) Removed()            {}

type recordingHost struct {
	mu      sync.Mutex
	batches [][]Entity
}

func (h *recordingHost) AddEntities(entities []Entity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, entities)
}

func ids(entities []Entity) []string {
	result := make([]string, 0, len(entities))
	for _, e := range entities {
		result = append(result, e.UniqueID())
	}
	return result
}

func TestManager_AddIsIdempotent(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	e := &stubEntity{uniqueID: "abc_status", haID: "abc"}
	m.Add(e)
	m.Add(e)
	m.Register()

	require.Len(t, host.batches, 1)
	assert.Equal(t, []string{"abc_status"}, ids(host.batches[0]))
	assert.True(t, m.IsRegistered("abc_status"))
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_RegisterEmptyBatch(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	m.Register()

	require.Len(t, host.batches, 1)
	assert.Empty(t, host.batches[0])
	assert.Empty(t, m.Entities())
}

func TestManager_AlreadyRegisteredIsDropped(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	m.Add(&stubEntity{uniqueID: "abc_status", haID: "abc"})
	m.Register()

	// a new object with the same id is still a duplicate
	m.Add(&stubEntity{uniqueID: "abc_status", haID: "abc"})
	assert.Equal(t, 0, m.PendingCount())
	m.Register()

	require.Len(t, host.batches, 2)
	assert.Empty(t, host.batches[1])
	assert.Len(t, m.Entities(), 1)
}

func TestManager_IgnoresInvalidCandidates(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	m.Add(nil)
	m.Add(&stubEntity{uniqueID: "", haID: "abc"})
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_BatchKeepsInsertionOrder(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	for _, id := range []string{"x_c", "x_a", "x_b"} {
		m.Add(&stubEntity{uniqueID: id, haID: "x"})
	}
	m.Register()

	require.Len(t, host.batches, 1)
	assert.Equal(t, []string{"x_c", "x_a", "x_b"}, ids(host.batches[0]))
}

func TestManager_RemoveAppliance(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	m.Add(&stubEntity{uniqueID: "x_a", haID: "x"})
	m.Add(&stubEntity{uniqueID: "x_b", haID: "x"})
	m.Add(&stubEntity{uniqueID: "y_a", haID: "y"})
	m.Register()
	assert.Equal(t, []string{"x_a", "x_b"}, m.ApplianceIDs("x"))

	removed := m.RemoveAppliance("x")
	assert.Equal(t, []string{"x_a", "x_b"}, ids(removed))
	assert.False(t, m.IsRegistered("x_a"))
	assert.False(t, m.IsRegistered("x_b"))
	assert.Empty(t, m.ApplianceIDs("x"))

	// other appliances are untouched
	assert.True(t, m.IsRegistered("y_a"))
	assert.Equal(t, []string{"y_a"}, m.ApplianceIDs("y"))

	// second removal is a no-op
	assert.Nil(t, m.RemoveAppliance("x"))
	assert.Equal(t, []string{"y_a"}, ids(m.Entities()))

	// ids become novel again
	m.Add(&stubEntity{uniqueID: "x_a", haID: "x"})
	m.Register()
	require.Len(t, host.batches, 2)
	assert.Equal(t, []string{"x_a"}, ids(host.batches[1]))
}

func TestManager_RemoveApplianceNormalizesID(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	m.Add(&stubEntity{uniqueID: "siemens_wm14_1_programs", haID: NormalizeID("SIEMENS-WM14-1")})
	m.Register()

	removed := m.RemoveAppliance("SIEMENS-WM14-1")
	require.Len(t, removed, 1)
	assert.False(t, m.IsRegistered("siemens_wm14_1_programs"))
}

func TestManager_UntrackedApplianceIsNoop(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	m.Add(&stubEntity{uniqueID: "y_a", haID: "y"})
	m.Register()

	assert.Nil(t, m.RemoveAppliance("unknown"))
	assert.True(t, m.IsRegistered("y_a"))
}

func TestManager_PerApplianceIDsAreRegistered(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	for _, e := range []*stubEntity{{"a_1", "a"}, {"a_2", "a"}, {"b_1", "b"}} {
		m.Add(e)
	}
	m.Register()
	m.RemoveAppliance("a")

	for _, haID := range []string{"a", "b"} {
		for _, id := range m.ApplianceIDs(haID) {
			assert.True(t, m.IsRegistered(id), id)
		}
	}
}

func TestManager_ConcurrentDiscoveryRegistersOnce(t *testing.T) {
	host := &recordingHost{}
	m := NewManager(host, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Add(&stubEntity{uniqueID: "x_programs", haID: "x"})
			m.Add(&stubEntity{uniqueID: "x_power", haID: "x"})
			m.Register()
		}()
	}
	wg.Wait()

	total := 0
	for _, batch := range host.batches {
		total += len(batch)
	}
	assert.Equal(t, 2, total)
	assert.Len(t, host.batches, 8)
}
