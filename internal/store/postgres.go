package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/regelwerk/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. Structured columns are
// stored as JSONB.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL store on an existing pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate applies the embedded PostgreSQL migrations that have not run yet.
func (s *PgStore) Migrate(ctx context.Context) ([]string, error) {
	scripts, err := migrations("postgres")
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, m := range scripts {
		var done bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, m.Name,
		).Scan(&done); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if done {
			continue
		}
		if err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		}); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}

func (s *PgStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+templateColumns+`
		FROM templates ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	out := []model.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows, nativeTime)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PgStore) GetTemplate(ctx context.Context, id string) (model.Template, error) {
	t, err := scanTemplate(s.pool.QueryRow(ctx, `SELECT `+templateColumns+`
		FROM templates WHERE id = $1`, id), nativeTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Template{}, templateNotFound(id)
	}
	if err != nil {
		return model.Template{}, fmt.Errorf("query template: %w", err)
	}
	return t, nil
}

func (s *PgStore) CreateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	if t.ID == "" {
		return model.Template{}, model.ErrMissingID
	}
	r, err := encodeTemplate(t)
	if err != nil {
		return model.Template{}, err
	}
	t.Version = 1
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, r.Name, r.Description, r.Fields, r.RoleConfig,
		t.CustomerSpecific, r.VisibleForCustomers, t.CreatedBy, t.UpdatedBy,
		t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return model.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Template{}, alreadyExists(model.EntityTemplate, t.ID)
	}
	return t, nil
}

func (s *PgStore) UpdateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	r, err := encodeTemplate(t)
	if err != nil {
		return model.Template{}, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE templates SET
			name = $1, description = $2, fields = $3, role_config = $4,
			customer_specific = $5, visible_for_customers = $6,
			updated_by = $7, updated_at = $8, version = version + 1
		WHERE id = $9 AND version = $10`,
		r.Name, r.Description, r.Fields, r.RoleConfig,
		t.CustomerSpecific, r.VisibleForCustomers,
		t.UpdatedBy, t.UpdatedAt, t.ID, t.Version,
	)
	if err != nil {
		return model.Template{}, fmt.Errorf("update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTemplate(ctx, t.ID); err != nil {
			return model.Template{}, err
		}
		return model.Template{}, versionConflict(model.EntityTemplate, t.ID, t.Version)
	}
	t.Version++
	return t, nil
}

func (s *PgStore) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return templateNotFound(id)
	}
	return nil
}

func (s *PgStore) ListFields(ctx context.Context) ([]model.Field, error) {
	return s.queryFields(ctx, `SELECT `+fieldColumns+` FROM fields ORDER BY created_at, id`)
}

func (s *PgStore) GetField(ctx context.Context, id string) (model.Field, error) {
	f, err := scanField(s.pool.QueryRow(ctx, `SELECT `+fieldColumns+`
		FROM fields WHERE id = $1`, id), nativeTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Field{}, fieldNotFound(id)
	}
	if err != nil {
		return model.Field{}, fmt.Errorf("query field: %w", err)
	}
	return f, nil
}

func (s *PgStore) GetFields(ctx context.Context, ids []string) ([]model.Field, error) {
	if len(ids) == 0 {
		return []model.Field{}, nil
	}
	return s.queryFields(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id = ANY($1)`, ids)
}

func (s *PgStore) CreateField(ctx context.Context, f model.Field) (model.Field, error) {
	if f.ID == "" {
		return model.Field{}, model.ErrMissingID
	}
	r, err := encodeField(f)
	if err != nil {
		return model.Field{}, err
	}
	f.Version = 1
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO fields (`+fieldColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING`,
		f.ID, r.Name, f.Type.String(), f.Visibility.String(), f.Requirement.String(), r.Validation,
		r.SelectType, r.Options, r.DocumentMode, r.DocumentConstraints,
		r.RoleConfig, f.CustomerSpecific, r.VisibleForCustomers, r.Dependencies,
		f.Version, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return model.Field{}, fmt.Errorf("insert field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Field{}, alreadyExists(model.EntityField, f.ID)
	}
	return f, nil
}

func (s *PgStore) UpdateField(ctx context.Context, f model.Field) (model.Field, error) {
	r, err := encodeField(f)
	if err != nil {
		return model.Field{}, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE fields SET
			name = $1, type = $2, visibility = $3, requirement = $4,
			validation = $5, select_type = $6, options = $7, document_mode = $8,
			document_constraints = $9, role_config = $10, customer_specific = $11,
			visible_for_customers = $12, dependencies = $13,
			updated_at = $14, version = version + 1
		WHERE id = $15 AND version = $16`,
		r.Name, f.Type.String(), f.Visibility.String(), f.Requirement.String(),
		r.Validation, r.SelectType, r.Options, r.DocumentMode,
		r.DocumentConstraints, r.RoleConfig, f.CustomerSpecific,
		r.VisibleForCustomers, r.Dependencies,
		f.UpdatedAt, f.ID, f.Version,
	)
	if err != nil {
		return model.Field{}, fmt.Errorf("update field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetField(ctx, f.ID); err != nil {
			return model.Field{}, err
		}
		return model.Field{}, versionConflict(model.EntityField, f.ID, f.Version)
	}
	f.Version++
	return f, nil
}

func (s *PgStore) DeleteField(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fields WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fieldNotFound(id)
	}
	return nil
}

func (s *PgStore) AppendChange(ctx context.Context, e model.ChangeLogEntry) error {
	if e.ID == "" {
		return model.ErrMissingID
	}
	changes, err := encodeChanges(e)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO change_log (`+changeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.EntityType, e.EntityID, e.Action, changes,
		e.UserID, e.UserName, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

func (s *PgStore) ListChanges(ctx context.Context, filter ChangeFilter) ([]model.ChangeLogEntry, error) {
	query := `SELECT ` + changeColumns + ` FROM change_log WHERE TRUE`
	var args []any
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	out := []model.ChangeLogEntry{}
	for rows.Next() {
		e, err := scanChange(rows, nativeTime)
		if err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) Verify(ctx context.Context) ([]*MalformedRecordError, error) {
	var bad []*MalformedRecordError
	collect := func(err error) error {
		var mr *MalformedRecordError
		if errors.As(err, &mr) {
			bad = append(bad, mr)
			return nil
		}
		return err
	}

	rows, err := s.pool.Query(ctx, `SELECT `+fieldColumns+` FROM fields ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	for rows.Next() {
		if _, err := scanField(rows, nativeTime); collect(err) != nil {
			rows.Close()
			return nil, fmt.Errorf("scan field: %w", err)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if _, err := scanTemplate(rows, nativeTime); collect(err) != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
	}
	return bad, rows.Err()
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PgStore) queryFields(ctx context.Context, query string, args ...any) ([]model.Field, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	out := []model.Field{}
	for rows.Next() {
		f, err := scanField(rows, nativeTime)
		if err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
