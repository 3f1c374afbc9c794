package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insightboard/insightboard/internal/model"
)

// Postgres error codes relevant to classification.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// Postgres implements MetricStore, OwnershipGuard, DashboardStore, and
// UserStore over a shared pgx pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates the store and ensures its schema exists.
func NewPostgres(ctx context.Context, db *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure store schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            BIGSERIAL PRIMARY KEY,
			email         TEXT        NOT NULL UNIQUE,
			password_hash TEXT        NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS dashboards (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT        NOT NULL,
			description TEXT        NOT NULL DEFAULT '',
			owner_id    BIGINT      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS metrics (
			id           BIGSERIAL PRIMARY KEY,
			name         TEXT             NOT NULL,
			value        DOUBLE PRECISION NOT NULL,
			metric_type  TEXT             NOT NULL,
			dashboard_id BIGINT           NOT NULL REFERENCES dashboards(id) ON DELETE CASCADE,
			metadata     JSONB,
			created_at   TIMESTAMPTZ      NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS metrics_dashboard_created_idx
			ON metrics (dashboard_id, created_at DESC);
	`)
	return err
}

// Ping verifies the database is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// -----------------------------------------------------------------------------
// MetricStore
// -----------------------------------------------------------------------------

func (s *Postgres) Persist(ctx context.Context, rec model.MetricRecord) (model.PersistedMetric, error) {
	out := model.PersistedMetric{
		Name:        rec.Name,
		Value:       rec.Value,
		MetricType:  rec.MetricType,
		DashboardID: rec.DashboardID,
		Metadata:    rec.Metadata,
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO metrics (name, value, metric_type, dashboard_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, rec.Name, rec.Value, rec.MetricType, rec.DashboardID, rec.Metadata).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		if pgErrCode(err) == pgForeignKeyViolation {
			return model.PersistedMetric{}, fmt.Errorf("persist metric for dashboard %d: %w", rec.DashboardID, ErrUnknownDashboard)
		}
		return model.PersistedMetric{}, fmt.Errorf("persist metric: %w", err)
	}
	return out, nil
}

func (s *Postgres) ListByDashboard(ctx context.Context, dashboardID int64, limit int) ([]model.PersistedMetric, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, value, metric_type, dashboard_id, metadata, created_at
		FROM metrics
		WHERE dashboard_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, dashboardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []model.PersistedMetric
	for rows.Next() {
		var m model.PersistedMetric
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &m.MetricType, &m.DashboardID, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// MetricManager
// -----------------------------------------------------------------------------

func (s *Postgres) GetMetric(ctx context.Context, id int64) (model.PersistedMetric, error) {
	var m model.PersistedMetric
	err := s.db.QueryRow(ctx, `
		SELECT id, name, value, metric_type, dashboard_id, metadata, created_at
		FROM metrics WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Value, &m.MetricType, &m.DashboardID, &m.Metadata, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PersistedMetric{}, ErrNotFound
		}
		return model.PersistedMetric{}, fmt.Errorf("get metric %d: %w", id, err)
	}
	return m, nil
}

func (s *Postgres) UpdateMetric(ctx context.Context, id int64, upd MetricUpdate) (model.PersistedMetric, error) {
	var m model.PersistedMetric
	err := s.db.QueryRow(ctx, `
		UPDATE metrics SET
			name        = COALESCE($2, name),
			value       = COALESCE($3, value),
			metric_type = COALESCE($4, metric_type)
		WHERE id = $1
		RETURNING id, name, value, metric_type, dashboard_id, metadata, created_at
	`, id, upd.Name, upd.Value, upd.MetricType).Scan(
		&m.ID, &m.Name, &m.Value, &m.MetricType, &m.DashboardID, &m.Metadata, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PersistedMetric{}, ErrNotFound
		}
		return model.PersistedMetric{}, fmt.Errorf("update metric %d: %w", id, err)
	}
	return m, nil
}

func (s *Postgres) DeleteMetric(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM metrics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete metric %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// OwnershipGuard
// -----------------------------------------------------------------------------

func (s *Postgres) IsOwner(ctx context.Context, dashboardID, userID int64) (bool, error) {
	var ownerID int64
	err := s.db.QueryRow(ctx, `
		SELECT owner_id FROM dashboards WHERE id = $1
	`, dashboardID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup dashboard %d: %w", dashboardID, err)
	}
	return ownerID == userID, nil
}

// -----------------------------------------------------------------------------
// DashboardStore
// -----------------------------------------------------------------------------

func (s *Postgres) Create(ctx context.Context, name, description string, ownerID int64) (model.Dashboard, error) {
	d := model.Dashboard{Name: name, Description: description, OwnerID: ownerID}
	err := s.db.QueryRow(ctx, `
		INSERT INTO dashboards (name, description, owner_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, name, description, ownerID).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return model.Dashboard{}, fmt.Errorf("create dashboard: %w", err)
	}
	return d, nil
}

func (s *Postgres) GetByID(ctx context.Context, id int64) (model.Dashboard, error) {
	var d model.Dashboard
	err := s.db.QueryRow(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM dashboards WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Description, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Dashboard{}, ErrNotFound
		}
		return model.Dashboard{}, fmt.Errorf("get dashboard %d: %w", id, err)
	}
	return d, nil
}

func (s *Postgres) ListByOwner(ctx context.Context, ownerID int64) ([]model.Dashboard, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM dashboards
		WHERE owner_id = $1
		ORDER BY id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	defer rows.Close()

	var out []model.Dashboard
	for rows.Next() {
		var d model.Dashboard
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dashboard: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) Update(ctx context.Context, id, ownerID int64, upd DashboardUpdate) (model.Dashboard, error) {
	var d model.Dashboard
	err := s.db.QueryRow(ctx, `
		UPDATE dashboards SET
			name        = COALESCE($3, name),
			description = COALESCE($4, description),
			updated_at  = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING id, name, description, owner_id, created_at, updated_at
	`, id, ownerID, upd.Name, upd.Description).Scan(
		&d.ID, &d.Name, &d.Description, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Nonexistent and not-owned are indistinguishable here.
			return model.Dashboard{}, ErrNotFound
		}
		return model.Dashboard{}, fmt.Errorf("update dashboard %d: %w", id, err)
	}
	return d, nil
}

func (s *Postgres) Delete(ctx context.Context, id, ownerID int64) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM dashboards WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete dashboard %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// UserStore
// -----------------------------------------------------------------------------

func (s *Postgres) CreateUser(ctx context.Context, email, passwordHash string) (model.User, error) {
	u := model.User{Email: email, PasswordHash: passwordHash}
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, email, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Postgres) GetByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
