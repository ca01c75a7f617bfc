package entity

import (
	"errors"
	"fmt"

	"homeconnect-bridge/internal/homeconnect"
)

// Actions named in user-visible command failures
const (
	ActionSelectProgram = "set the selected program"
	ActionSetOption     = "set the selected option"
	ActionApplySetting  = "apply the setting"
)

// HostError is a command failure surfaced to the user by the host
type HostError struct {
	Action      string
	Key         string
	Value       any
	Code        string
	Description string
	Err         error
}

func (e *HostError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("failed to %s: %s (%s - %s=%v)", e.Action, e.Description, e.Code, e.Key, e.Value)
	}
	return fmt.Sprintf("failed to %s (%s - %s=%v)", e.Action, e.Code, e.Key, e.Value)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// CommandFailed converts a client failure of a user-initiated write into a
// HostError. Errors that did not come from the API keep their text as the
// description.
func CommandFailed(action, key string, value any, err error) error {
	if err == nil {
		return nil
	}

	hostErr := &HostError{Action: action, Key: key, Value: value, Err: err}
	var hcErr *homeconnect.Error
	if errors.As(err, &hcErr) {
		hostErr.Code = hcErr.Code
		hostErr.Description = hcErr.Description
	} else {
		hostErr.Code = "error"
		hostErr.Description = err.Error()
	}
	return hostErr
}
