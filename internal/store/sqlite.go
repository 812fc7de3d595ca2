package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/pitabwire/regelwerk/model"
)

// SQLiteStore is a Store on a single SQLite file, for local and single-node
// deployments. Structured columns are stored as JSON text and timestamps as
// RFC 3339 text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serialises writers; one connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Migrate applies the embedded SQLite migrations that have not run yet.
func (s *SQLiteStore) Migrate(ctx context.Context) ([]string, error) {
	scripts, err := migrations("sqlite")
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, m := range scripts {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, m.Name,
		).Scan(&n); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if n > 0 {
			continue
		}
		if err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range splitStatements(m.SQL) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
				m.Name, formatTime(time.Now()))
			return err
		}); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+`
		FROM templates ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	out := []model.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows, textTime)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (model.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+`
		FROM templates WHERE id = ?`, id), textTime)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Template{}, templateNotFound(id)
	}
	if err != nil {
		return model.Template{}, fmt.Errorf("query template: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) CreateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	if t.ID == "" {
		return model.Template{}, model.ErrMissingID
	}
	r, err := encodeTemplate(t)
	if err != nil {
		return model.Template{}, err
	}
	t.Version = 1
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, text(r.Name), nullText(r.Description), text(r.Fields), text(r.RoleConfig),
		t.CustomerSpecific, text(r.VisibleForCustomers), t.CreatedBy, t.UpdatedBy,
		t.Version, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return model.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Template{}, alreadyExists(model.EntityTemplate, t.ID)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	r, err := encodeTemplate(t)
	if err != nil {
		return model.Template{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates SET
			name = ?, description = ?, fields = ?, role_config = ?,
			customer_specific = ?, visible_for_customers = ?,
			updated_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		text(r.Name), nullText(r.Description), text(r.Fields), text(r.RoleConfig),
		t.CustomerSpecific, text(r.VisibleForCustomers),
		t.UpdatedBy, formatTime(t.UpdatedAt), t.ID, t.Version,
	)
	if err != nil {
		return model.Template{}, fmt.Errorf("update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetTemplate(ctx, t.ID); err != nil {
			return model.Template{}, err
		}
		return model.Template{}, versionConflict(model.EntityTemplate, t.ID, t.Version)
	}
	t.Version++
	return t, nil
}

func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return templateNotFound(id)
	}
	return nil
}

func (s *SQLiteStore) ListFields(ctx context.Context) ([]model.Field, error) {
	return s.queryFields(ctx, `SELECT `+fieldColumns+` FROM fields ORDER BY created_at, id`)
}

func (s *SQLiteStore) GetField(ctx context.Context, id string) (model.Field, error) {
	f, err := scanField(s.db.QueryRowContext(ctx, `SELECT `+fieldColumns+`
		FROM fields WHERE id = ?`, id), textTime)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Field{}, fieldNotFound(id)
	}
	if err != nil {
		return model.Field{}, fmt.Errorf("query field: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) GetFields(ctx context.Context, ids []string) ([]model.Field, error) {
	if len(ids) == 0 {
		return []model.Field{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryFields(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id IN (`+placeholders+`)`, args...)
}

func (s *SQLiteStore) CreateField(ctx context.Context, f model.Field) (model.Field, error) {
	if f.ID == "" {
		return model.Field{}, model.ErrMissingID
	}
	r, err := encodeField(f)
	if err != nil {
		return model.Field{}, err
	}
	f.Version = 1
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fields (`+fieldColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		f.ID, text(r.Name), f.Type.String(), f.Visibility.String(), f.Requirement.String(), text(r.Validation),
		r.SelectType, text(r.Options), r.DocumentMode, text(r.DocumentConstraints),
		text(r.RoleConfig), f.CustomerSpecific, text(r.VisibleForCustomers), text(r.Dependencies),
		f.Version, formatTime(f.CreatedAt), formatTime(f.UpdatedAt),
	)
	if err != nil {
		return model.Field{}, fmt.Errorf("insert field: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Field{}, alreadyExists(model.EntityField, f.ID)
	}
	return f, nil
}

func (s *SQLiteStore) UpdateField(ctx context.Context, f model.Field) (model.Field, error) {
	r, err := encodeField(f)
	if err != nil {
		return model.Field{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE fields SET
			name = ?, type = ?, visibility = ?, requirement = ?,
			validation = ?, select_type = ?, options = ?, document_mode = ?,
			document_constraints = ?, role_config = ?, customer_specific = ?,
			visible_for_customers = ?, dependencies = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		text(r.Name), f.Type.String(), f.Visibility.String(), f.Requirement.String(),
		text(r.Validation), r.SelectType, text(r.Options), r.DocumentMode,
		text(r.DocumentConstraints), text(r.RoleConfig), f.CustomerSpecific,
		text(r.VisibleForCustomers), text(r.Dependencies),
		formatTime(f.UpdatedAt), f.ID, f.Version,
	)
	if err != nil {
		return model.Field{}, fmt.Errorf("update field: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetField(ctx, f.ID); err != nil {
			return model.Field{}, err
		}
		return model.Field{}, versionConflict(model.EntityField, f.ID, f.Version)
	}
	f.Version++
	return f, nil
}

func (s *SQLiteStore) DeleteField(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fields WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fieldNotFound(id)
	}
	return nil
}

func (s *SQLiteStore) AppendChange(ctx context.Context, e model.ChangeLogEntry) error {
	if e.ID == "" {
		return model.ErrMissingID
	}
	changes, err := encodeChanges(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO change_log (`+changeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityType, e.EntityID, e.Action, text(changes),
		e.UserID, e.UserName, formatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChanges(ctx context.Context, filter ChangeFilter) ([]model.ChangeLogEntry, error) {
	query := `SELECT ` + changeColumns + ` FROM change_log WHERE 1 = 1`
	var args []any
	if filter.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, filter.EntityID)
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	out := []model.ChangeLogEntry{}
	for rows.Next() {
		e, err := scanChange(rows, textTime)
		if err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Verify(ctx context.Context) ([]*MalformedRecordError, error) {
	var bad []*MalformedRecordError
	check := func(query string, scan func(scanner) error) error {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			err := scan(rows)
			var mr *MalformedRecordError
			if errors.As(err, &mr) {
				bad = append(bad, mr)
				continue
			}
			if err != nil {
				return err
			}
		}
		return rows.Err()
	}

	if err := check(`SELECT `+fieldColumns+` FROM fields ORDER BY id`, func(r scanner) error {
		_, err := scanField(r, textTime)
		return err
	}); err != nil {
		return nil, fmt.Errorf("verify fields: %w", err)
	}
	if err := check(`SELECT `+templateColumns+` FROM templates ORDER BY id`, func(r scanner) error {
		_, err := scanTemplate(r, textTime)
		return err
	}); err != nil {
		return nil, fmt.Errorf("verify templates: %w", err)
	}
	return bad, nil
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryFields(ctx context.Context, query string, args ...any) ([]model.Field, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	out := []model.Field{}
	for rows.Next() {
		f, err := scanField(rows, textTime)
		if err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// splitStatements splits a migration script on ";" at line ends. The
// scripts contain no semicolons inside literals.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";\n") {
		if stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// sqliteTimeLayout has a fixed width so that text order is time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

// text stores JSON as TEXT rather than BLOB.
func text(b []byte) string { return string(b) }

func nullText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// textTime scans the RFC 3339 text written by formatTime.
func textTime(t *time.Time) any { return sqliteTime{t} }

type sqliteTime struct{ t *time.Time }

func (s sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.t = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		*s.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("sqlite time: unsupported type %T", src)
	}
}

func (s sqliteTime) parse(v string) error {
	t, err := time.Parse(sqliteTimeLayout, v)
	if err != nil {
		return fmt.Errorf("sqlite time: %w", err)
	}
	*s.t = t
	return nil
}
