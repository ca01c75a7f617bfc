package ha

import "encoding/json"

// Message is a websocket frame to or from Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a failed result reported by Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return "HA error: " + e.Code + " - " + e.Message
}

// AuthMessage is the authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// CallServiceRequest is a call_service command
type CallServiceRequest struct {
	ID          int            `json:"id"`
	Type        string         `json:"type"`
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

// PingRequest is a ping command
type PingRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// Notification is a persistent notification shown in the Home Assistant UI
type Notification struct {
	ID      string
	Title   string
	Message string
}

func (n Notification) serviceData() map[string]any {
	data := map[string]any{"message": n.Message}
	if n.Title != "" {
		data["title"] = n.Title
	}
	if n.ID != "" {
		data["notification_id"] = n.ID
	}
	return data
}
