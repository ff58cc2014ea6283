// Package database manages the optional TimescaleDB pool used to archive
// price ticks and notifications.
//
// Tables:
//   - price_ticks: every applied price (hypertable on received_at)
//   - notifications: every appended alert
//
// The dashboard runs without a database; archiving is enabled with
// database.enabled in the config.
package database
