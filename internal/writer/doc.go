// Package writer implements batch writers that archive the price stream.
//
// Writers:
//   - Price tick writer (price_ticks)
//   - Notification writer (notifications)
//
// Both consume a router.GrowableBuffer and insert with pgx.Batch, append
// only. Prices are stored as integer micro-dollars so sub-cent assets keep
// six digits of precision.
package writer
