package homeconnect

import (
	"context"
	"sync"
	"time"
)

// Command records a command sent through MockCommander
type Command struct {
	Action string
	HaID   string
	Key    string
	Value  any
	Time   time.Time
}

// MockCommander implements Commander for testing. It records every command and
// returns the error configured for the action, if any.
type MockCommander struct {
	mu       sync.Mutex
	commands []Command
	errs     map[string]error
}

// NewMockCommander creates a commander that accepts every command
func NewMockCommander() *MockCommander {
	return &MockCommander{errs: make(map[string]error)}
}

// FailWith makes the given action ("select_program", "set_option", "apply_setting") fail
func (m *MockCommander) FailWith(action string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[action] = err
}

func (m *MockCommander) record(action, haID, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, Command{
		Action: action,
		HaID:   haID,
		Key:    key,
		Value:  value,
		Time:   time.Now(),
	})
	return m.errs[action]
}

// SelectProgram records a program selection
func (m *MockCommander) SelectProgram(_ context.Context, haID, key string) error {
	return m.record("select_program", haID, key, nil)
}

// SetOption records an option change
func (m *MockCommander) SetOption(_ context.Context, haID, key string, value any) error {
	return m.record("set_option", haID, key, value)
}

// ApplySetting records a setting change
func (m *MockCommander) ApplySetting(_ context.Context, haID, key string, value any) error {
	return m.record("apply_setting", haID, key, value)
}

// Commands returns a copy of the recorded commands
func (m *MockCommander) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Command, len(m.commands))
	copy(result, m.commands)
	return result
}
