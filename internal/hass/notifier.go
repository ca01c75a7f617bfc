package hass

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"homeconnect-bridge/internal/ha"
)

const notificationTitle = "Home Connect"

// Notifier shows command failures to the user
type Notifier interface {
	CommandFailed(ctx context.Context, id string, err error)
	CommandSucceeded(ctx context.Context, id string)
}

// NopNotifier drops every notification
type NopNotifier struct{}

func (NopNotifier) CommandFailed(context.Context, string, error) {}
func (NopNotifier) CommandSucceeded(context.Context, string)     {}

// HANotifier raises persistent notifications in Home Assistant. A notification
// stays until the same entity completes a command.
type HANotifier struct {
	client ha.HAClient
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewHANotifier creates a notifier backed by client
func NewHANotifier(client ha.HAClient, logger *zap.Logger) *HANotifier {
	return &HANotifier{
		client: client,
		logger: logger.Named("notifier"),
		active: make(map[string]struct{}),
	}
}

// CommandFailed creates or replaces the notification id with the error text
func (n *HANotifier) CommandFailed(ctx context.Context, id string, err error) {
	if err == nil {
		return
	}
	if !n.client.IsConnected() {
		n.logger.Warn("Home Assistant not connected, notification dropped",
			zap.String("notification_id", id),
			zap.Error(err))
		return
	}

	notifyErr := n.client.CreateNotification(ctx, ha.Notification{
		ID:      id,
		Title:   notificationTitle,
		Message: err.Error(),
	})
	if notifyErr != nil {
		n.logger.Error("Failed to create notification",
			zap.String("notification_id", id),
			zap.Error(notifyErr))
		return
	}

	n.mu.Lock()
	n.active[id] = struct{}{}
	n.mu.Unlock()
}

// CommandSucceeded dismisses a notification raised earlier for id
func (n *HANotifier) CommandSucceeded(ctx context.Context, id string) {
	n.mu.Lock()
	_, ok := n.active[id]
	delete(n.active, id)
	n.mu.Unlock()

	if !ok || !n.client.IsConnected() {
		return
	}
	if err := n.client.DismissNotification(ctx, id); err != nil {
		n.logger.Warn("Failed to dismiss notification",
			zap.String("notification_id", id),
			zap.Error(err))
	}
}
