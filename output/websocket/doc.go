// Package websocket serves the live measurement monitor.
//
// # Overview
//
// The Monitor consumes the canonical measurement stream and fans every batch
// out to connected WebSocket clients as JSON. It is mounted by the admin
// service at /ws/measurements and is intended for dashboards and field
// tooling, not for data delivery guarantees.
//
// # Filtering
//
// A client narrows what it receives with query parameters on the handshake:
//
//	ws://host:8080/ws/measurements?source=SHELBY&source=BRANCH
//	ws://host:8080/ws/measurements?key=2f0d9c7e-...
//
// The filter can be replaced later by sending a control message:
//
//	{"type":"filter","payload":{"sources":["SHELBY"],"keys":[]}}
//
// An empty filter receives everything.
//
// # Message Format
//
// Every message is an envelope:
//
//	{"type":"measurements","id":"SHELBY-42","timestamp":1760875205000,"payload":{...}}
//
// The payload is the batch in the measurement stream encoding; undefined
// values are null.
//
// # Slow Clients
//
// Each client has a bounded queue. When a client cannot keep up the oldest
// queued messages are dropped and counted; the stream is never stalled.
package websocket
