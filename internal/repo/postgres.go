package repo

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
	"github.com/mlevan/refetch/internal/data"
	"github.com/mlevan/refetch/internal/fp"
)

// PostgresRecordStore implements RecordStore backed by PostgreSQL. The
// derived metrics (speed, remaining) are not persisted; they are
// recomputed from notifications after a restart.
type PostgresRecordStore struct {
	db *sql.DB
}

// NewPostgresRecordStore constructs a store using the provided DSN.
func NewPostgresRecordStore(dsn string) (*PostgresRecordStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &PostgresRecordStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresRecordStoreFromEnv constructs a DSN from component env vars
// (POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
// POSTGRES_PASSWORD, POSTGRES_SSLMODE). Credentials are URL-encoded.
func NewPostgresRecordStoreFromEnv() (*PostgresRecordStore, error) {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "refetch")
	user := getenv("POSTGRES_USER", "refetch")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return NewPostgresRecordStore(u.String())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (s *PostgresRecordStore) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable. Backs the readiness
// probe.
func (s *PostgresRecordStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

var _ RecordStore = (*PostgresRecordStore)(nil)

func (s *PostgresRecordStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS records (
    id UUID PRIMARY KEY,
    gid TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    target_path TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    progress DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_bytes BIGINT NOT NULL DEFAULT 0,
    downloaded_bytes BIGINT NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL,
    fingerprint TEXT NOT NULL UNIQUE
);
`)
	return err
}

const recordCols = `id,gid,name,source,target_path,status,progress,total_bytes,downloaded_bytes,started_at,created_at`

func (s *PostgresRecordStore) List(ctx context.Context) (data.Records, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordCols+` FROM records ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out data.Records
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresRecordStore) Get(ctx context.Context, id string) (*data.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordCols+` FROM records WHERE id=$1`, id)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *PostgresRecordStore) GetByGID(ctx context.Context, gid string) (*data.Record, error) {
	if gid == "" {
		return nil, data.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+recordCols+` FROM records WHERE gid=$1`, gid)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *PostgresRecordStore) Index(ctx context.Context, id string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM records ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return -1, err
	}
	defer rows.Close()
	i := 0
	for rows.Next() {
		var got string
		if err := rows.Scan(&got); err != nil {
			return -1, err
		}
		if got == id {
			return i, nil
		}
		i++
	}
	if err := rows.Err(); err != nil {
		return -1, err
	}
	return -1, data.ErrNotFound
}

func (s *PostgresRecordStore) Add(ctx context.Context, r *data.Record) (*data.Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO records (`+recordCols+`,fingerprint) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.GID, r.Name, r.Source, r.TargetPath, string(r.Status), r.Progress, r.TotalBytes, r.DownloadedBytes,
		nullTime(r.StartedAt), r.CreatedAt, fp.Fingerprint(r.Identity))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, data.ErrConflict
		}
		return nil, err
	}
	return s.Get(ctx, r.ID)
}

func (s *PostgresRecordStore) Update(ctx context.Context, id string, mutate func(*data.Record) error) (*data.Record, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+recordCols+` FROM records WHERE id=$1 FOR UPDATE`, id)
	cur, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID = cur.ID

	if _, err := tx.ExecContext(ctx, `UPDATE records SET gid=$1, name=$2, source=$3, target_path=$4, status=$5, progress=$6, total_bytes=$7, downloaded_bytes=$8, started_at=$9, fingerprint=$10 WHERE id=$11`,
		next.GID, next.Name, next.Source, next.TargetPath, string(next.Status), next.Progress, next.TotalBytes, next.DownloadedBytes,
		nullTime(next.StartedAt), fp.Fingerprint(next.Identity), id); err != nil {
		if isUniqueViolation(err) {
			return nil, data.ErrConflict
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *PostgresRecordStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

// Helpers

type rowScanner interface{ Scan(dest ...any) error }

func scanRecord(rs rowScanner) (*data.Record, error) {
	var (
		id, gid, name, source, target, status string
		progress                              float64
		total, downloaded                     int64
		started                               sql.NullTime
		created                               time.Time
	)
	if err := rs.Scan(&id, &gid, &name, &source, &target, &status, &progress, &total, &downloaded, &started, &created); err != nil {
		return nil, err
	}
	r := &data.Record{
		ID:              id,
		GID:             gid,
		Identity:        data.Identity{Name: name, Source: source, TargetPath: target},
		Status:          data.RecordStatus(status),
		Progress:        progress,
		TotalBytes:      total,
		DownloadedBytes: downloaded,
		CreatedAt:       created,
	}
	if started.Valid {
		r.StartedAt = started.Time
	}
	return r, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}
