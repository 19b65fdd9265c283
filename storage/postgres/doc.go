// Package postgres implements the relational and lookup stores on
// PostgreSQL, accessed through sqlx over the pgx driver.
//
// Fact records are upserted by content fingerprint: each fact table carries a
// unique fingerprint column, and re-writing a draft for an existing
// fingerprint updates the row in place. Lookup dimensions are append-only
// tables with a unique natural key; concurrent get-or-create races are
// resolved by an insert that tolerates conflicts followed by a re-read.
package postgres
