package store

import (
	"context"
	"errors"

	"github.com/insightboard/insightboard/internal/model"
)

// Store errors.
var (
	// ErrUnknownDashboard means a metric references a dashboard that does
	// not exist. Permanent: redelivery cannot fix it.
	ErrUnknownDashboard = errors.New("unknown dashboard")

	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken means a user with that email already exists.
	ErrEmailTaken = errors.New("email already registered")
)

// IsPermanent reports whether a persistence failure cannot be repaired by
// retrying the same record.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnknownDashboard)
}

// MetricStore persists validated metric records.
type MetricStore interface {
	// Persist stores a record and returns it with its generated id and
	// server-side creation time.
	Persist(ctx context.Context, rec model.MetricRecord) (model.PersistedMetric, error)

	// ListByDashboard returns a dashboard's most recent metrics, newest first.
	ListByDashboard(ctx context.Context, dashboardID int64, limit int) ([]model.PersistedMetric, error)
}

// MetricUpdate holds the optional fields of a direct metric update. Nil
// fields are left unchanged.
type MetricUpdate struct {
	Name       *string
	Value      *float64
	MetricType *string
}

// MetricManager provides direct CRUD on persisted metrics, outside the
// ingestion pipeline. Ownership checks are the caller's responsibility.
type MetricManager interface {
	GetMetric(ctx context.Context, id int64) (model.PersistedMetric, error)
	UpdateMetric(ctx context.Context, id int64, upd MetricUpdate) (model.PersistedMetric, error)
	DeleteMetric(ctx context.Context, id int64) error
}

// OwnershipGuard answers whether a user owns a dashboard. A nonexistent
// dashboard reports false, same as not-owned.
type OwnershipGuard interface {
	IsOwner(ctx context.Context, dashboardID, userID int64) (bool, error)
}

// DashboardUpdate holds the optional fields of a dashboard update. Nil
// fields are left unchanged.
type DashboardUpdate struct {
	Name        *string
	Description *string
}

// DashboardStore manages dashboard rows.
type DashboardStore interface {
	Create(ctx context.Context, name, description string, ownerID int64) (model.Dashboard, error)
	GetByID(ctx context.Context, id int64) (model.Dashboard, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]model.Dashboard, error)
	Update(ctx context.Context, id, ownerID int64, upd DashboardUpdate) (model.Dashboard, error)
	Delete(ctx context.Context, id, ownerID int64) error
}

// UserStore manages user rows.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
}
