package ha

import (
	"context"
	"sync"
	"time"
)

// ServiceCall records a service call made through MockClient
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]any
	Time    time.Time
}

// MockClient implements HAClient for testing
type MockClient struct {
	mu        sync.Mutex
	connected bool
	calls     []ServiceCall
	err       error
}

// NewMockClient creates a disconnected mock client
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockClient) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// FailWith makes every following service call return err
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockClient) CallService(_ context.Context, domain, service string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	return nil
}

func (m *MockClient) CreateNotification(ctx context.Context, n Notification) error {
	return m.CallService(ctx, "persistent_notification", "create", n.serviceData())
}

func (m *MockClient) DismissNotification(ctx context.Context, id string) error {
	return m.CallService(ctx, "persistent_notification", "dismiss", map[string]any{"notification_id": id})
}

// GetServiceCalls returns a copy of the recorded calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ServiceCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// ClearServiceCalls forgets the recorded calls
func (m *MockClient) ClearServiceCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
