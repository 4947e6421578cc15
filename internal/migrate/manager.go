// Package migrate applies the auth schema and role seeds to PostgreSQL.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"projectdesk.io/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	// DefaultLockKey is the advisory lock held while files are applied, so
	// replicas started with auto-migrate do not race each other.
	DefaultLockKey int64 = 727_100_001
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ErrNothingToRollback is returned by Down when no migration is recorded.
var ErrNothingToRollback = errors.New("migrate: no migrations applied")

// Applied is one bookkeeping row.
type Applied struct {
	Name      string
	AppliedAt time.Time
}

type source struct {
	fsys   fs.FS
	table  string
	suffix string
	kind   string
}

// Manager applies SQL migrations and seed files read from file systems,
// usually the embedded ops/migrations tree.
type Manager struct {
	db         *sql.DB
	migrations source
	seeds      source
	lockKey    int64
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if tableName.MatchString(name) {
			m.migrations.table = name
		}
	}
}

// WithSeedsTable overrides the seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if tableName.MatchString(name) {
			m.seeds.table = name
		}
	}
}

// WithLockKey changes the advisory lock key. Zero disables locking.
func WithLockKey(key int64) Option {
	return func(m *Manager) { m.lockKey = key }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager constructs a Manager. Either file system may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: source{fsys: migrations, table: defaultMigrationsTable, suffix: ".up.sql", kind: "migration"},
		seeds:      source{fsys: seeds, table: defaultSeedsTable, suffix: ".sql", kind: "seed"},
		lockKey:    DefaultLockKey,
		logger:     obs.Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in file name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.apply(ctx, m.migrations)
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.apply(ctx, m.seeds)
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.withConn(ctx, func(conn *sql.Conn) error {
		if err := ensureTable(ctx, conn, m.migrations.table); err != nil {
			return err
		}
		history, err := listApplied(ctx, conn, m.migrations.table)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return ErrNothingToRollback
		}
		last := history[len(history)-1].Name
		want := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
		files, err := listFiles(m.migrations.fsys, ".down.sql")
		if err != nil {
			return err
		}
		idx := sort.Search(len(files), func(i int) bool { return files[i].name >= want })
		if idx == len(files) || files[idx].name != want {
			return fmt.Errorf("migrate: no down file for %s", last)
		}
		body, err := fs.ReadFile(m.migrations.fsys, files[idx].path)
		if err != nil {
			return err
		}
		forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrations.table)
		err = runInTx(ctx, conn, string(body), func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, forget, last)
			return err
		})
		if err != nil {
			return fmt.Errorf("migrate: roll back %s: %w", last, err)
		}
		m.logger.InfoContext(ctx, "migration rolled back", slog.String("name", last))
		return nil
	})
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Applied, error) {
	var out []Applied
	err := m.withConn(ctx, func(conn *sql.Conn) error {
		if err := ensureTable(ctx, conn, m.migrations.table); err != nil {
			return err
		}
		var err error
		out, err = listApplied(ctx, conn, m.migrations.table)
		return err
	})
	return out, err
}

func (m *Manager) apply(ctx context.Context, src source) error {
	return m.withConn(ctx, func(conn *sql.Conn) error {
		if err := ensureTable(ctx, conn, src.table); err != nil {
			return err
		}
		history, err := listApplied(ctx, conn, src.table)
		if err != nil {
			return err
		}
		done := make(map[string]struct{}, len(history))
		for _, a := range history {
			done[a.Name] = struct{}{}
		}
		files, err := listFiles(src.fsys, src.suffix)
		if err != nil {
			return err
		}
		record := fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, src.table)
		for _, f := range files {
			if _, ok := done[f.name]; ok {
				continue
			}
			body, err := fs.ReadFile(src.fsys, f.path)
			if err != nil {
				return err
			}
			err = runInTx(ctx, conn, string(body), func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, record, f.name, m.now().UTC())
				return err
			})
			if err != nil {
				return fmt.Errorf("migrate: apply %s %s: %w", src.kind, f.name, err)
			}
			m.logger.InfoContext(ctx, src.kind+" applied", slog.String("name", f.name))
		}
		return nil
	})
}

// withConn pins one connection for the advisory lock and everything run under it.
func (m *Manager) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if m.lockKey != 0 {
		if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, m.lockKey); err != nil {
			return fmt.Errorf("migrate: acquire lock: %w", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, m.lockKey); err != nil {
				m.logger.Warn("migrate: release lock", slog.Any("error", err))
			}
		}()
	}
	return fn(conn)
}

func ensureTable(ctx context.Context, conn *sql.Conn, table string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(
		`create table if not exists %s (name text primary key, applied_at timestamptz not null default now())`, table))
	return err
}

func listApplied(ctx context.Context, conn *sql.Conn, table string) ([]Applied, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// runInTx executes every statement of body and then after inside one transaction.
func runInTx(ctx context.Context, conn *sql.Conn, body string, after func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := after(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlFile struct {
	name string
	path string
}

// listFiles returns files ending in suffix sorted by base name.
func listFiles(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{name: path.Base(p), path: p})
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// splitStatements cuts body on semicolons outside quotes, line comments and
// dollar-quoted bodies. Empty statements are dropped.
func splitStatements(body string) []string {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
		dollar string
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case dollar != "":
			if strings.HasPrefix(body[i:], dollar) {
				cur.WriteString(dollar)
				i += len(dollar) - 1
				dollar = ""
				continue
			}
		case quoted:
			if c == '\'' {
				quoted = false
			}
		case c == '\'':
			quoted = true
		case c == '-' && strings.HasPrefix(body[i:], "--"):
			for i < len(body) && body[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
			continue
		case c == '$':
			if end := strings.IndexByte(body[i+1:], '$'); end >= 0 && isTag(body[i+1:i+1+end]) {
				dollar = body[i : i+end+2]
				cur.WriteString(dollar)
				i += end + 1
				continue
			}
		case c == ';':
			flush()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return out
}

func isTag(s string) bool {
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
