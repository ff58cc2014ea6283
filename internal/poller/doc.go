// Package poller implements the Weather Poller component.
//
// The Weather Poller:
//   - Refreshes current conditions for the configured cities every 60 seconds
//   - Keeps the latest snapshot for the weather panel and push clients
//   - Supplies the city list used by simulated weather alerts
package poller
