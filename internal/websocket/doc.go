// Package websocket pushes operation snapshots to connected dashboards.
//
// A Hub owns the client set and fans every broadcast out to each client's
// buffered queue. A client whose queue is full is disconnected instead of
// stalling the others. The Hub satisfies operations.WebSocketHub, so the
// status broadcaster publishes through it directly.
package websocket
