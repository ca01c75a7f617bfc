package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"homeconnect-bridge/internal/ha"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg any) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(msg)
}

// MockHAServer simulates the Home Assistant websocket API: the auth
// handshake, ping and call_service. Service calls are recorded.
type MockHAServer struct {
	server *httptest.Server
	token  string
	logger *zap.Logger

	connections []*connWrapper
	connsMu     sync.Mutex

	serviceCalls []ServiceCall
	failures     map[string]ha.Error
	callsMu      sync.Mutex
}

// NewMockHAServer starts a server accepting the given token
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:    token,
		logger:   zap.NewNop(),
		failures: make(map[string]ha.Error),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL is the websocket endpoint of the server
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Close drops every connection and stops the server
func (s *MockHAServer) Close() {
	s.DropConnections()
	s.server.Close()
}

// DropConnections closes the open websocket connections
func (s *MockHAServer) DropConnections() {
	s.connsMu.Lock()
	conns := s.connections
	s.connections = nil
	s.connsMu.Unlock()

	for _, wrapper := range conns {
		wrapper.conn.Close()
	}
}

// ConnectionCount returns the number of authenticated connections
func (s *MockHAServer) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.connections)
}

// FailService makes calls to domain.service fail with the given error.
// An empty code clears the failure.
func (s *MockHAServer) FailService(domain, service, code, message string) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	key := domain + "." + service
	if code == "" {
		delete(s.failures, key)
		return
	}
	s.failures[key] = ha.Error{Code: code, Message: message}
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	wrapper := &connWrapper{conn: conn}
	wrapper.write(ha.Message{Type: "auth_required"})

	var auth ha.AuthMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.write(ha.Message{Type: "auth_invalid"})
		return
	}
	wrapper.write(ha.Message{Type: "auth_ok"})

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()
	defer s.forget(wrapper)

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			return
		}

		var base struct {
			ID   int    `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "ping":
			wrapper.write(ha.Message{ID: base.ID, Type: "pong"})
		case "call_service":
			s.handleCallService(wrapper, raw)
		default:
			wrapper.write(result(base.ID, &ha.Error{Code: "unknown_command", Message: "Unknown command."}))
		}
	}
}

func (s *MockHAServer) forget(wrapper *connWrapper) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for i, w := range s.connections {
		if w == wrapper {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			return
		}
	}
}

func (s *MockHAServer) handleCallService(wrapper *connWrapper, raw json.RawMessage) {
	var req ha.CallServiceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	s.callsMu.Lock()
	failure, failing := s.failures[req.Domain+"."+req.Service]
	if !failing {
		s.serviceCalls = append(s.serviceCalls, ServiceCall{
			Timestamp:   time.Now(),
			Domain:      req.Domain,
			Service:     req.Service,
			ServiceData: req.ServiceData,
		})
	}
	s.callsMu.Unlock()

	if failing {
		wrapper.write(result(req.ID, &failure))
		return
	}
	wrapper.write(result(req.ID, nil))
}

func result(id int, err *ha.Error) ha.Message {
	success := err == nil
	return ha.Message{ID: id, Type: "result", Success: &success, Error: err}
}

// GetServiceCalls returns all successful service calls since the last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// CountServiceCalls counts service calls to domain.service
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	return len(FilterServiceCalls(s.GetServiceCalls(), domain, service))
}
