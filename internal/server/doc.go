// Package server exposes the dashboard over HTTP using gin.
//
// Routes:
//   - /weather and /news proxy the upstream REST APIs through the cache
//   - /api/* reads stream status, prices and notifications and drives the
//     connection manager
//   - /ws pushes status, price, notification and weather events to browsers
//   - /health and the metrics path for operators
package server
