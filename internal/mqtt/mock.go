package mqtt

import (
	"strings"
	"sync"
)

// Message is a publish recorded by MockClient
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// MockClient implements ClientAPI in memory. Published messages are recorded
// and retained ones are kept per topic; Deliver simulates an incoming message.
type MockClient struct {
	mu       sync.Mutex
	messages []Message
	retained map[string][]byte
	subs     map[string]Handler
	err      error
}

// NewMockClient creates an empty mock broker client
func NewMockClient() *MockClient {
	return &MockClient{
		retained: make(map[string][]byte),
		subs:     make(map[string]Handler),
	}
}

// FailWith makes every following Publish return err
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockClient) Publish(topic string, payload []byte, retain bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	p := append([]byte(nil), payload...)
	m.messages = append(m.messages, Message{Topic: topic, Payload: p, Retain: retain})
	if retain {
		if len(p) == 0 {
			delete(m.retained, topic)
		} else {
			m.retained[topic] = p
		}
	}
	return nil
}

func (m *MockClient) Subscribe(topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = handler
	return nil
}

func (m *MockClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, topic)
	return nil
}

// Deliver invokes the handler subscribed to topic and reports whether one existed
func (m *MockClient) Deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	h, ok := m.subs[topic]
	m.mu.Unlock()
	if !ok {
		return false
	}
	h(topic, payload)
	return true
}

// Subscribed reports whether topic has a handler
func (m *MockClient) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[topic]
	return ok
}

// Retained returns the retained payload of topic
func (m *MockClient) Retained(topic string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.retained[topic]
	return p, ok
}

// Messages returns the recorded publishes whose topic starts with prefix
func (m *MockClient) Messages(prefix string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Message
	for _, msg := range m.messages {
		if strings.HasPrefix(msg.Topic, prefix) {
			result = append(result, msg)
		}
	}
	return result
}

// Reset forgets recorded publishes but keeps retained state and subscriptions
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}
