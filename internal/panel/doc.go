// Package panel serves the embedded status page for the control API.
//
// The page shows the lifecycle state as an on-screen LED, lists recent
// transitions, streams new ones over the WebSocket, and posts lifecycle
// commands with an optional operator token.
package panel
