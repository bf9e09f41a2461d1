// Package migrate aplica migraciones SQL forward-only con tracking de checksum
// y rollback transaccional de la última unidad.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/dropDatabas3/authority/internal/apperr"
	"github.com/dropDatabas3/authority/internal/observability/logger"
	"github.com/dropDatabas3/authority/internal/observability/metrics"
)

const defaultTable = "schema_migrations"

var (
	// ErrNoInverse indica que la última unidad aplicada no tiene script down.
	ErrNoInverse = errors.New("migrate: no inverse script")
	// ErrNothingApplied indica que no hay unidades para revertir.
	ErrNothingApplied = errors.New("migrate: no migrations applied")
	// ErrChecksumDrift indica que una unidad aplicada cambió en el FS.
	ErrChecksumDrift = errors.New("migrate: checksum drift")
)

// Options configura el Runner.
type Options struct {
	// Table de tracking. Default: schema_migrations.
	Table string
	// Driver: con "postgres" se toma un advisory lock alrededor de Run/RollbackLast.
	Driver string
	// LockKey distingue el advisory lock entre despliegues que comparten DB.
	LockKey string
	// AllowChecksumDrift reporta el drift pero no falla Run.
	AllowChecksumDrift bool
	Metrics            *metrics.Metrics
}

// AppliedUnit es una fila de la tabla de tracking.
type AppliedUnit struct {
	Version   int64
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Drift describe una unidad aplicada cuyo script up cambió.
type Drift struct {
	Version  int64
	Name     string
	Recorded string
	Current  string
}

// Report es el resultado de Status.
type Report struct {
	Applied []AppliedUnit
	Pending []Unit
	Drifted []Drift
	// Unknown son versiones aplicadas que ya no existen en el FS.
	Unknown []AppliedUnit
}

// Runner aplica las unidades de src sobre db. Un solo runner por despliegue.
type Runner struct {
	db   *sql.DB
	src  fs.FS
	opts Options
	now  func() time.Time
}

func New(db *sql.DB, src fs.FS, opts Options) *Runner {
	if opts.Table == "" {
		opts.Table = defaultTable
	}
	if opts.LockKey == "" {
		opts.LockKey = "authority"
	}
	return &Runner{db: db, src: src, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

func failed(err error) error { return apperr.ErrMigrationFailed.WithCause(err) }

// Run aplica las unidades pendientes en orden, cada una en su transacción junto con
// su fila de tracking. Devuelve las aplicadas en esta corrida (aun si falla a mitad).
func (r *Runner) Run(ctx context.Context) ([]AppliedUnit, error) {
	log := logger.From(ctx).With(logger.Component("migrate"), logger.Op("migrate.run"))

	units, err := LoadUnits(r.src)
	if err != nil {
		return nil, failed(err)
	}

	conn, release, err := r.acquire(ctx)
	if err != nil {
		return nil, failed(err)
	}
	defer release()

	if err := r.ensureTable(ctx, conn); err != nil {
		return nil, failed(fmt.Errorf("creating migrations table: %w", err))
	}
	applied, err := r.loadApplied(ctx, conn)
	if err != nil {
		return nil, failed(fmt.Errorf("loading applied migrations: %w", err))
	}

	rep := diff(units, applied)
	for _, u := range rep.Unknown {
		log.Warn("applied migration missing from source", logger.Migration(fmt.Sprintf("%d_%s", u.Version, u.Name)))
	}
	if len(rep.Drifted) > 0 {
		for _, d := range rep.Drifted {
			log.Warn("migration checksum drift",
				logger.Migration(fmt.Sprintf("%d_%s", d.Version, d.Name)),
				logger.String("recorded", d.Recorded), logger.String("current", d.Current))
		}
		if !r.opts.AllowChecksumDrift {
			d := rep.Drifted[0]
			return nil, failed(fmt.Errorf("%w: %d_%s", ErrChecksumDrift, d.Version, d.Name))
		}
	}

	var done []AppliedUnit
	for _, u := range rep.Pending {
		start := time.Now()
		au, err := r.apply(ctx, conn, u)
		if err != nil {
			r.opts.Metrics.Migration(metrics.ResultFailed)
			log.Error("migration failed", logger.Migration(u.ID()), logger.Err(err))
			return done, failed(fmt.Errorf("applying migration %s: %w", u.ID(), err))
		}
		r.opts.Metrics.Migration(metrics.ResultApplied)
		log.Info("migration applied", logger.Migration(u.ID()), logger.Duration(time.Since(start)))
		done = append(done, au)
	}
	if len(done) == 0 {
		log.Debug("schema up to date", logger.Count(len(applied)))
	}
	return done, nil
}

// Status reporta aplicadas, pendientes y drift sin modificar el esquema de la app.
func (r *Runner) Status(ctx context.Context) (Report, error) {
	units, err := LoadUnits(r.src)
	if err != nil {
		return Report{}, failed(err)
	}
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return Report{}, failed(err)
	}
	defer conn.Close()

	if err := r.ensureTable(ctx, conn); err != nil {
		return Report{}, failed(err)
	}
	applied, err := r.loadApplied(ctx, conn)
	if err != nil {
		return Report{}, failed(err)
	}
	return diff(units, applied), nil
}

// RollbackLast ejecuta el down de la última unidad aplicada y borra su fila, en una transacción.
func (r *Runner) RollbackLast(ctx context.Context) (*AppliedUnit, error) {
	log := logger.From(ctx).With(logger.Component("migrate"), logger.Op("migrate.rollback"))

	units, err := LoadUnits(r.src)
	if err != nil {
		return nil, failed(err)
	}
	conn, release, err := r.acquire(ctx)
	if err != nil {
		return nil, failed(err)
	}
	defer release()

	if err := r.ensureTable(ctx, conn); err != nil {
		return nil, failed(err)
	}
	applied, err := r.loadApplied(ctx, conn)
	if err != nil {
		return nil, failed(err)
	}
	if len(applied) == 0 {
		return nil, failed(ErrNothingApplied)
	}
	last := mostRecent(applied)
	id := fmt.Sprintf("%d_%s", last.Version, last.Name)

	var unit *Unit
	for i := range units {
		if units[i].Version == last.Version {
			unit = &units[i]
			break
		}
	}
	if unit == nil || !unit.HasDown {
		return nil, failed(fmt.Errorf("%w for %s", ErrNoInverse, id))
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, failed(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, unit.Down); err != nil {
		r.opts.Metrics.Migration(metrics.ResultFailed)
		return nil, failed(fmt.Errorf("rollback migration %s: %w", id, err))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE version = $1`, r.opts.Table), last.Version); err != nil {
		return nil, failed(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, failed(err)
	}

	r.opts.Metrics.Migration(metrics.ResultRollback)
	log.Info("migration rolled back", logger.Migration(id))
	return &last, nil
}

func (r *Runner) apply(ctx context.Context, conn *sql.Conn, u Unit) (AppliedUnit, error) {
	au := AppliedUnit{Version: u.Version, Name: u.Name, Checksum: u.Checksum, AppliedAt: r.now()}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return au, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, u.Up); err != nil {
		return au, err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (version, name, checksum, applied_at) VALUES ($1, $2, $3, $4)`, r.opts.Table),
		au.Version, au.Name, au.Checksum, au.AppliedAt); err != nil {
		return au, err
	}
	return au, tx.Commit()
}

func (r *Runner) ensureTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    BIGINT PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, r.opts.Table))
	return err
}

func (r *Runner) loadApplied(ctx context.Context, conn *sql.Conn) ([]AppliedUnit, error) {
	rows, err := conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT version, name, checksum, applied_at FROM %s ORDER BY version`, r.opts.Table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppliedUnit
	for rows.Next() {
		var a AppliedUnit
		if err := rows.Scan(&a.Version, &a.Name, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// mostRecent elige la última unidad aplicada por applied_at; empata por versión.
func mostRecent(applied []AppliedUnit) AppliedUnit {
	last := applied[0]
	for _, a := range applied[1:] {
		if a.AppliedAt.After(last.AppliedAt) || (a.AppliedAt.Equal(last.AppliedAt) && a.Version > last.Version) {
			last = a
		}
	}
	return last
}

// acquire toma una conexión dedicada y, en postgres, el advisory lock de sesión sobre ella.
func (r *Runner) acquire(ctx context.Context) (*sql.Conn, func(), error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	if r.opts.Driver != "postgres" {
		return conn, func() { _ = conn.Close() }, nil
	}

	id := lockID(r.opts.LockKey)
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, id); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	return conn, func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, id); err != nil {
			logger.L().Warn("failed to release migration lock", logger.Err(err))
		}
		_ = conn.Close()
	}, nil
}

// lockID deriva un id estable para pg_advisory_lock.
func lockID(key string) int64 {
	h := sha256.Sum256([]byte("schema_migration:" + key))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

func diff(units []Unit, applied []AppliedUnit) Report {
	rep := Report{Applied: applied}
	byVersion := make(map[int64]AppliedUnit, len(applied))
	for _, a := range applied {
		byVersion[a.Version] = a
	}
	known := make(map[int64]bool, len(units))
	for _, u := range units {
		known[u.Version] = true
		a, ok := byVersion[u.Version]
		if !ok {
			rep.Pending = append(rep.Pending, u)
			continue
		}
		if a.Checksum != u.Checksum {
			rep.Drifted = append(rep.Drifted, Drift{Version: u.Version, Name: u.Name, Recorded: a.Checksum, Current: u.Checksum})
		}
	}
	for _, a := range applied {
		if !known[a.Version] {
			rep.Unknown = append(rep.Unknown, a)
		}
	}
	return rep
}
