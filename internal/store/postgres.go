package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"asset-census-api/pkg/inventory"
)

// Postgres stores the session in PostgreSQL. Reads go through database/sql;
// commits run as a single pgx batch inside one transaction.
type Postgres struct {
	DB     *sql.DB
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects both handles and pings the database.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create pgxpool: %w", err)
	}
	return &Postgres{DB: db, Pool: pool, logger: logger}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

func (p *Postgres) Close() error {
	if p.Pool != nil {
		p.Pool.Close()
	}
	if p.DB != nil {
		return p.DB.Close()
	}
	return nil
}

// Load reads every table into a session. Users stored in the legacy
// single-location shape are rewritten in the current shape.
func (p *Postgres) Load(ctx context.Context) (*inventory.Session, error) {
	s := inventory.NewSession()
	if err := p.loadAreas(ctx, s); err != nil {
		return nil, err
	}
	if err := p.loadAssets(ctx, s); err != nil {
		return nil, err
	}
	migrated, err := p.loadUsers(ctx, s)
	if err != nil {
		return nil, err
	}
	if err := p.loadCounters(ctx, s); err != nil {
		return nil, err
	}

	var completedAt sql.NullTime
	err = p.DB.QueryRowContext(ctx,
		`SELECT completed, completed_at FROM inventory_state WHERE id = 1`,
	).Scan(&s.Inventory.Completed, &completedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load inventory state: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		s.Inventory.CompletedAt = &t
	}

	for _, u := range migrated {
		_, err := p.DB.ExecContext(ctx,
			`UPDATE users SET locations = $2, location = NULL, updated_at = now() WHERE name = $1`,
			u.Name, pq.Array(u.Locations))
		if err != nil {
			return nil, fmt.Errorf("migrate user %s: %w", u.Name, err)
		}
	}
	if len(migrated) > 0 {
		p.logger.Info("migrated legacy users", zap.Int("count", len(migrated)))
	}

	p.logger.Info("session loaded",
		zap.Int("assets", len(s.Assets)),
		zap.Int("users", len(s.Users)),
		zap.Int("areas", len(s.Areas)))
	return s, nil
}

func (p *Postgres) loadAreas(ctx context.Context, s *inventory.Session) error {
	rows, err := p.DB.QueryContext(ctx, `SELECT id, name, state, closed FROM areas`)
	if err != nil {
		return fmt.Errorf("load areas: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a inventory.Area
		var state string
		if err := rows.Scan(&a.ID, &a.Name, &state, &a.Closed); err != nil {
			return fmt.Errorf("scan area: %w", err)
		}
		a.State = inventory.AreaState(state)
		s.Areas[a.ID] = &a
	}
	return rows.Err()
}

func (p *Postgres) loadAssets(ctx context.Context, s *inventory.Session) error {
	rows, err := p.DB.QueryContext(ctx, `
		SELECT key, description, brand, model, serial, origin_area,
		       located, assigned_user, anchor_location, mismatched, label_pending,
		       notes, photo_ref
		FROM assets`)
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a inventory.Asset
		var holder, anchor, photo sql.NullString
		err := rows.Scan(&a.Key, &a.Description, &a.Brand, &a.Model, &a.Serial, &a.OriginArea,
			&a.Located, &holder, &anchor, &a.Mismatched, &a.LabelPending,
			&a.Notes, &photo)
		if err != nil {
			return fmt.Errorf("scan asset: %w", err)
		}
		a.AssignedUser = nullString(holder)
		a.AnchorLocation = nullString(anchor)
		a.PhotoRef = nullString(photo)
		s.Assets[a.Key] = &a
	}
	return rows.Err()
}

func (p *Postgres) loadUsers(ctx context.Context, s *inventory.Session) ([]*inventory.User, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT name, area, location, locations FROM users`)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()

	var migrated []*inventory.User
	for rows.Next() {
		var l inventory.LegacyUser
		var location sql.NullString
		var locations pq.StringArray
		if err := rows.Scan(&l.Name, &l.Area, &location, &locations); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		l.Location = location.String
		l.Locations = locations

		u := inventory.MigrateLegacyUser(l)
		s.Users[u.Name] = u
		if location.Valid && len(locations) == 0 {
			migrated = append(migrated, u)
		}
	}
	return migrated, rows.Err()
}

func (p *Postgres) loadCounters(ctx context.Context, s *inventory.Session) error {
	rows, err := p.DB.QueryContext(ctx, `SELECT base, count FROM location_counters`)
	if err != nil {
		return fmt.Errorf("load location counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var base string
		var n int
		if err := rows.Scan(&base, &n); err != nil {
			return fmt.Errorf("scan location counter: %w", err)
		}
		s.Counter[base] = n
	}
	return rows.Err()
}

// Commit writes m in one transaction.
func (p *Postgres) Commit(ctx context.Context, m Mutation) error {
	if m.Empty() {
		return nil
	}
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, a := range m.PutAreas {
		b.Queue(`
			INSERT INTO areas (id, name, state, closed) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, state = EXCLUDED.state,
			       closed = EXCLUDED.closed, updated_at = now()`,
			a.ID, a.Name, string(a.State), a.Closed)
	}
	for _, u := range m.PutUsers {
		b.Queue(`
			INSERT INTO users (name, area, location, locations) VALUES ($1, $2, NULL, $3)
			ON CONFLICT (name) DO UPDATE SET area = EXCLUDED.area, location = NULL,
			       locations = EXCLUDED.locations, updated_at = now()`,
			u.Name, u.Area, nonNil(u.Locations))
	}
	for _, a := range m.PutAssets {
		b.Queue(`
			INSERT INTO assets (key, description, brand, model, serial, origin_area,
			                    located, assigned_user, anchor_location, mismatched, label_pending,
			                    notes, photo_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (key) DO UPDATE SET
			       description = EXCLUDED.description, brand = EXCLUDED.brand,
			       model = EXCLUDED.model, serial = EXCLUDED.serial,
			       origin_area = EXCLUDED.origin_area, located = EXCLUDED.located,
			       assigned_user = EXCLUDED.assigned_user, anchor_location = EXCLUDED.anchor_location,
			       mismatched = EXCLUDED.mismatched, label_pending = EXCLUDED.label_pending,
			       notes = EXCLUDED.notes, photo_ref = EXCLUDED.photo_ref, updated_at = now()`,
			a.Key, a.Description, a.Brand, a.Model, a.Serial, a.OriginArea,
			a.Located, a.AssignedUser, a.AnchorLocation, a.Mismatched, a.LabelPending,
			a.Notes, a.PhotoRef)
	}
	if len(m.DeleteAssets) > 0 {
		b.Queue(`DELETE FROM assets WHERE key = ANY($1)`, m.DeleteAssets)
	}
	if len(m.DeleteUsers) > 0 {
		b.Queue(`DELETE FROM users WHERE name = ANY($1)`, m.DeleteUsers)
	}
	if len(m.DeleteAreas) > 0 {
		b.Queue(`DELETE FROM areas WHERE id = ANY($1)`, m.DeleteAreas)
	}
	if m.Counter != nil {
		b.Queue(`DELETE FROM location_counters`)
		for base, n := range m.Counter {
			b.Queue(`INSERT INTO location_counters (base, count) VALUES ($1, $2)`, base, n)
		}
	}
	if m.Inventory != nil {
		b.Queue(`
			INSERT INTO inventory_state (id, completed, completed_at) VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET completed = EXCLUDED.completed, completed_at = EXCLUDED.completed_at`,
			m.Inventory.Completed, m.Inventory.CompletedAt)
	}

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("write commit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.logger.Debug("mutation committed",
		zap.Int("statements", b.Len()),
		zap.Int("assets", len(m.PutAssets)+len(m.DeleteAssets)),
		zap.Int("users", len(m.PutUsers)+len(m.DeleteUsers)))
	return nil
}

func (p *Postgres) Operator(ctx context.Context, email string) (*Operator, error) {
	var op Operator
	var name sql.NullString
	var lastLogin sql.NullTime
	var roles pq.StringArray
	err := p.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, roles, is_active, last_login_at
		FROM operators
		WHERE lower(email) = lower($1) AND is_active = true`,
		strings.TrimSpace(email),
	).Scan(&op.ID, &op.Email, &op.PasswordHash, &name, &roles, &op.Active, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load operator: %w", err)
	}
	op.Name = name.String
	op.Roles = roles
	if lastLogin.Valid {
		op.LastLoginAt = &lastLogin.Time
	}
	return &op, nil
}

func (p *Postgres) RecordLogin(ctx context.Context, id int64) error {
	_, err := p.DB.ExecContext(ctx, `UPDATE operators SET last_login_at = now() WHERE id = $1`, id)
	return err
}

// CreateOperator inserts an operator with an already hashed password.
func (p *Postgres) CreateOperator(ctx context.Context, op Operator) (int64, error) {
	var id int64
	err := p.DB.QueryRowContext(ctx, `
		INSERT INTO operators (email, password_hash, name, roles)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		strings.ToLower(strings.TrimSpace(op.Email)), op.PasswordHash, op.Name, pq.Array(op.Roles),
	).Scan(&id)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return 0, fmt.Errorf("operator %s already exists", op.Email)
		}
		return 0, fmt.Errorf("create operator: %w", err)
	}
	return id, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
