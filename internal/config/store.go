package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/soetuniversity/portal/internal/model"
	"github.com/soetuniversity/portal/internal/password"
)

// Supported store dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// SupportedDialects lists the drivers Open accepts.
func SupportedDialects() []string {
	return []string{DialectSQLite, DialectPostgres, DialectMySQL}
}

// DefaultQueryTimeout bounds every store call that has no earlier deadline.
const DefaultQueryTimeout = 5 * time.Second

// StoreConfig selects and tunes the backing database.
type StoreConfig struct {
	Driver       string // sqlite (default), postgres or mysql
	DSN          string // ignored for sqlite when DataDir is set
	DataDir      string // sqlite only; empty means in-memory
	QueryTimeout time.Duration
	MaxOpenConns int
	Hasher       *password.Hasher
	Now          func() time.Time
}

// Store is the credential store and content persistence layer. It is the
// only writer of admin records.
type Store struct {
	db      *sqlx.DB
	dialect string
	timeout time.Duration
	hasher  *password.Hasher
	now     func() time.Time
}

// NewStore opens a SQLite store in dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(StoreConfig{Driver: DialectSQLite, DataDir: dataDir})
}

// Open connects to the configured database and applies migrations.
func Open(cfg StoreConfig) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DialectSQLite
	}

	var (
		driverName string
		dsn        = cfg.DSN
	)
	switch cfg.Driver {
	case DialectSQLite:
		driverName = "sqlite"
		if dsn == "" {
			if cfg.DataDir == "" {
				dsn = ":memory:"
			} else {
				if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
					return nil, fmt.Errorf("create data dir: %w", err)
				}
				dsn = filepath.Join(cfg.DataDir, "portal.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
			}
		}
	case DialectPostgres:
		driverName = "pgx"
	case DialectMySQL:
		driverName = "mysql"
		var err error
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	if cfg.Driver == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := Wrap(db, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store database: %w", err)
	}
	return s, nil
}

// mysqlDSN forces UTC time parsing and matched-row counts. Without
// clientFoundRows an UPDATE that changes nothing reports zero rows and a
// repeated save would read as ErrNotFound.
func mysqlDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.ClientFoundRows = true
	return mc.FormatDSN(), nil
}

// Wrap builds a Store around an existing connection without migrating it.
// cfg.Driver names the SQL dialect of db.
func Wrap(db *sqlx.DB, cfg StoreConfig) *Store {
	s := &Store{
		db:      db,
		dialect: cfg.Driver,
		timeout: cfg.QueryTimeout,
		hasher:  cfg.Hasher,
		now:     cfg.Now,
	}
	if s.dialect == "" {
		s.dialect = DialectSQLite
	}
	if s.timeout <= 0 {
		s.timeout = DefaultQueryTimeout
	}
	if s.hasher == nil {
		s.hasher = password.New(password.DefaultCost)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the SQL dialect the store was opened with.
func (s *Store) Dialect() string {
	return s.dialect
}

// Hasher returns the password hasher used for transient passwords.
func (s *Store) Hasher() *password.Hasher {
	return s.hasher
}

// Ping checks database reachability within the query timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify(ctx, "ping", s.db.PingContext(ctx))
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// stamp returns the current time in UTC at second precision, so stored
// timestamps compare consistently across dialects.
func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// insert runs a named INSERT and returns the new row's id.
func (s *Store) insert(ctx context.Context, q string, arg interface{}) (int64, error) {
	if s.dialect == DialectPostgres {
		rows, err := s.db.NamedQueryContext(ctx, q+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		var id int64
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				return 0, err
			}
		}
		return id, rows.Err()
	}

	result, err := s.db.NamedExecContext(ctx, q, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// execOne runs a positional statement and reports ErrNotFound when no row
// matched.
func (s *Store) execOne(ctx context.Context, op, q string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return classify(ctx, op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify(ctx, op+" rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Admin accounts
// ---------------------------------------------------------------------------

// adminRow is a flat struct that maps 1:1 to the admins table columns. The
// permissions_json column stores the JSON-encoded []model.Permission.
type adminRow struct {
	ID              int64      `db:"id"`
	Username        string     `db:"username"`
	Email           string     `db:"email"`
	Name            string     `db:"name"`
	PasswordHash    string     `db:"password_hash"`
	Role            string     `db:"role"`
	PermissionsJSON string     `db:"permissions_json"`
	IsActive        bool       `db:"is_active"`
	LastLoginAt     *time.Time `db:"last_login_at"`
	LastLogoutAt    *time.Time `db:"last_logout_at"`
	FailedAttempts  int        `db:"failed_attempts"`
	LockUntil       *time.Time `db:"lock_until"`
	LockoutVersion  int64      `db:"lockout_version"`
	CreatedBy       *int64     `db:"created_by"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

const adminColumns = `id, username, email, name, password_hash, role, permissions_json, is_active,
	last_login_at, last_logout_at, failed_attempts, lock_until, lockout_version,
	created_by, created_at, updated_at`

func adminRowFromModel(a *model.Admin) (adminRow, error) {
	perms, err := json.Marshal(a.Permissions)
	if err != nil {
		return adminRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	return adminRow{
		ID:              a.ID,
		Username:        a.Username,
		Email:           a.Email,
		Name:            a.Name,
		PasswordHash:    a.PasswordHash,
		Role:            string(a.Role),
		PermissionsJSON: string(perms),
		IsActive:        a.IsActive,
		LastLoginAt:     a.LastLoginAt,
		LastLogoutAt:    a.LastLogoutAt,
		FailedAttempts:  a.FailedAttempts,
		LockUntil:       a.LockUntil,
		LockoutVersion:  a.LockoutVersion,
		CreatedBy:       a.CreatedBy,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}, nil
}

func (r adminRow) toModel() (*model.Admin, error) {
	perms := []model.Permission{}
	if r.PermissionsJSON != "" {
		if err := json.Unmarshal([]byte(r.PermissionsJSON), &perms); err != nil {
			return nil, fmt.Errorf("unmarshal permissions for admin %d: %w", r.ID, err)
		}
	}
	return &model.Admin{
		ID:             r.ID,
		Username:       r.Username,
		Email:          r.Email,
		Name:           r.Name,
		PasswordHash:   r.PasswordHash,
		Role:           model.Role(r.Role),
		Permissions:    perms,
		IsActive:       r.IsActive,
		LastLoginAt:    r.LastLoginAt,
		LastLogoutAt:   r.LastLogoutAt,
		FailedAttempts: r.FailedAttempts,
		LockUntil:      r.LockUntil,
		LockoutVersion: r.LockoutVersion,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// applyPassword hashes a transient plaintext password into PasswordHash and
// clears it. Records without a transient password keep their digest.
func (s *Store) applyPassword(a *model.Admin) error {
	if a.Password == "" {
		return nil
	}
	hash, err := s.hasher.Hash(a.Password)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	a.Password = ""
	return nil
}

// CreateAdmin validates and inserts a new admin account, hashing its
// transient password. The ID, CreatedAt, and UpdatedAt fields are populated
// after a successful insert. Email or username collisions yield ErrDuplicate.
func (s *Store) CreateAdmin(ctx context.Context, a *model.Admin) error {
	a.Normalize()
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.applyPassword(a); err != nil {
		return err
	}

	now := s.stamp()
	a.CreatedAt = now
	a.UpdatedAt = now

	row, err := adminRowFromModel(a)
	if err != nil {
		return err
	}

	const q = `INSERT INTO admins
		(username, email, name, password_hash, role, permissions_json, is_active,
		 last_login_at, last_logout_at, failed_attempts, lock_until, lockout_version,
		 created_by, created_at, updated_at)
		VALUES
		(:username, :email, :name, :password_hash, :role, :permissions_json, :is_active,
		 :last_login_at, :last_logout_at, :failed_attempts, :lock_until, :lockout_version,
		 :created_by, :created_at, :updated_at)`

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id, err := s.insert(ctx, q, row)
	if err != nil {
		return classify(ctx, "insert admin", err)
	}
	a.ID = id
	return nil
}

// SaveAdmin persists an admin's profile, credential, role, permission and
// activation fields after re-validating them. Lockout fields are not written
// here; they change only through CompareAndSwapLockout, ResetLockout and
// RecordLoginSuccess so concurrent login failures are never overwritten.
func (s *Store) SaveAdmin(ctx context.Context, a *model.Admin) error {
	a.Normalize()
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.applyPassword(a); err != nil {
		return err
	}
	a.UpdatedAt = s.stamp()

	row, err := adminRowFromModel(a)
	if err != nil {
		return err
	}

	const q = `UPDATE admins SET
		username = :username, email = :email, name = :name, password_hash = :password_hash,
		role = :role, permissions_json = :permissions_json, is_active = :is_active,
		last_login_at = :last_login_at, last_logout_at = :last_logout_at, updated_at = :updated_at
		WHERE id = :id`

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return classify(ctx, "update admin", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify(ctx, "update admin rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getAdmin(ctx context.Context, op, where string, arg interface{}) (*model.Admin, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row adminRow
	q := s.db.Rebind("SELECT " + adminColumns + " FROM admins WHERE " + where)
	if err := s.db.GetContext(ctx, &row, q, arg); err != nil {
		return nil, classify(ctx, op, err)
	}
	return row.toModel()
}

// GetAdmin returns an admin by ID.
func (s *Store) GetAdmin(ctx context.Context, id int64) (*model.Admin, error) {
	return s.getAdmin(ctx, "get admin", "id = ?", id)
}

// GetAdminByEmail returns an admin by email address. The lookup is
// case-insensitive because stored emails are lowercase.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	return s.getAdmin(ctx, "get admin by email", "email = ?", model.NormalizeEmail(email))
}

// GetAdminByUsername returns an admin by username.
func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error) {
	return s.getAdmin(ctx, "get admin by username", "username = ?", username)
}

// ListAdmins returns all admin accounts.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []adminRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+adminColumns+" FROM admins ORDER BY email"); err != nil {
		return nil, classify(ctx, "list admins", err)
	}

	admins := make([]model.Admin, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		admins = append(admins, *a)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin account exists. This is used
// for first-run detection.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, classify(ctx, "count admins", err)
	}
	return count > 0, nil
}

// HasSuperAdmin reports whether a super_admin account exists.
func (s *Store) HasSuperAdmin(ctx context.Context) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int
	q := s.db.Rebind("SELECT COUNT(*) FROM admins WHERE role = ?")
	if err := s.db.GetContext(ctx, &count, q, string(model.RoleSuperAdmin)); err != nil {
		return false, classify(ctx, "count super admins", err)
	}
	return count > 0, nil
}

// CompareAndSwapLockout writes next as the admin's lockout state only if the
// stored lockout version still equals expected. The version is incremented on
// every successful swap. It returns false when another writer got there first.
func (s *Store) CompareAndSwapLockout(ctx context.Context, id, expected int64, next model.LockoutState) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var lockUntil *time.Time
	if next.LockUntil != nil {
		t := next.LockUntil.UTC()
		lockUntil = &t
	}

	const q = `UPDATE admins SET
		failed_attempts = ?, lock_until = ?, lockout_version = lockout_version + 1, updated_at = ?
		WHERE id = ? AND lockout_version = ?`

	result, err := s.db.ExecContext(ctx, s.db.Rebind(q), next.FailedAttempts, lockUntil, s.stamp(), id, expected)
	if err != nil {
		return false, classify(ctx, "swap admin lockout", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classify(ctx, "swap admin lockout rows affected", err)
	}
	return n == 1, nil
}

// ResetLockout clears the failed-attempt counter and any lock.
func (s *Store) ResetLockout(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const q = `UPDATE admins SET
		failed_attempts = 0, lock_until = NULL, lockout_version = lockout_version + 1, updated_at = ?
		WHERE id = ?`
	return s.execOne(ctx, "reset admin lockout", q, s.stamp(), id)
}

// RecordLoginSuccess clears lockout state and stamps last_login_at in one
// statement.
func (s *Store) RecordLoginSuccess(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const q = `UPDATE admins SET
		failed_attempts = 0, lock_until = NULL, lockout_version = lockout_version + 1,
		last_login_at = ?, updated_at = ?
		WHERE id = ?`
	return s.execOne(ctx, "record admin login", q, at.UTC(), s.stamp(), id)
}

// UpdateAdminLastLogout stamps last_logout_at for audit purposes.
func (s *Store) UpdateAdminLastLogout(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const q = `UPDATE admins SET last_logout_at = ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, "update admin last logout", q, at.UTC(), s.stamp(), id)
}
