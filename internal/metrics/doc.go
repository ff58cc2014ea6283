// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Feed connection state, reconnect attempts and frame rates
//   - Decoded and dropped price updates
//   - Notifications emitted and suppressed by kind
//   - Archive writer batch sizes and buffer overflow counts
//
// Collectors register once with the default registry via Init. Every
// recording helper is a no-op before Init so packages can record
// unconditionally in tests.
package metrics
