// Package store provides durable persistence for metrics, dashboards, and
// users, and the ownership checks gating ingestion and subscriptions.
//
// The pipeline consumes the narrow MetricStore and OwnershipGuard
// interfaces; the Postgres implementation backs both plus the CRUD surface.
package store
