// Package model defines shared data types used across the dashboard backend.
//
// Conventions:
//   - Prices: float64 in quote currency (USD)
//   - Asset IDs: lowercase strings (e.g., "bitcoin"), see NormalizeAsset
//   - Timestamps: time.Time, serialized as RFC 3339
//   - IDs: uuid.UUID for notifications
package model
