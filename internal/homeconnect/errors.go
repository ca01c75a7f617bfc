package homeconnect

import "fmt"

// Error is a command failure reported by the Home Connect API
type Error struct {
	// Code is the HTTP status code of the failed request, as a string
	Code string
	// Key is the API error key, e.g. SDK.Error.WrongOperationState
	Key string
	// Description is the optional human-readable reason
	Description string
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("home connect error %s: %s", e.Code, e.Description)
	}
	if e.Key != "" {
		return fmt.Sprintf("home connect error %s: %s", e.Code, e.Key)
	}
	return fmt.Sprintf("home connect error %s", e.Code)
}
