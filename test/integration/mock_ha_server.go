// Package integration runs the bridge end to end: a refresher feeding the
// hub, both entity platforms publishing to an in-memory broker, and command
// failures notified through a real websocket client to a mock Home Assistant.
package integration

import (
	"homeconnect-bridge/pkg/testutil"
)

type MockHAServer = testutil.MockHAServer
type ServiceCall = testutil.ServiceCall

var NewMockHAServer = testutil.NewMockHAServer

var FilterServiceCalls = testutil.FilterServiceCalls
var FindNotification = testutil.FindNotification
