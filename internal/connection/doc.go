// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns a single WebSocket connection to the price feed
//   - Subscribes by URL to the current Subscription Set and reconnects
//     with the full set whenever an asset is added
//   - Retries unclean closes through a bounded Reconnect Policy and
//     enters a terminal failed state once the ceiling is reached
//   - Serializes every event (commands, frames, errors, closes, timers)
//     through one goroutine so frame handling is single-writer
//   - Hands frames to the Message Router and drives the weather alert timer
package connection
