package testutil

import "time"

// ServiceCall records a service call for testing/verification
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]any
}

// FilterServiceCalls filters service calls by domain and service
func FilterServiceCalls(calls []ServiceCall, domain, service string) []ServiceCall {
	var filtered []ServiceCall
	for _, call := range calls {
		if call.Domain == domain && call.Service == service {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// FindServiceCallWithData finds the most recent service call with a matching data key/value
func FindServiceCallWithData(calls []ServiceCall, domain, service, dataKey string, dataValue any) *ServiceCall {
	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		if call.Domain == domain && call.Service == service {
			if val, ok := call.ServiceData[dataKey]; ok && val == dataValue {
				return &call
			}
		}
	}
	return nil
}

// FindNotification finds the most recent persistent notification call of the
// given service ("create" or "dismiss") for a notification id
func FindNotification(calls []ServiceCall, service, notificationID string) *ServiceCall {
	return FindServiceCallWithData(calls, "persistent_notification", service, "notification_id", notificationID)
}
