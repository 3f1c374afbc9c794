// Package database builds the pgx connection pool shared by the metric
// store, the relational stores, and the Postgres log storage.
package database
