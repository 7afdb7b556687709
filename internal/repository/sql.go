package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/darkodi/snaplink/internal/config"
	"github.com/darkodi/snaplink/internal/migrations"
	"github.com/darkodi/snaplink/internal/model"
)

const linkColumns = "original_url, short_id, machine_id, created_at, visit_count, last_visited_at"

// SQLStore keeps links in sqlite or postgres through database/sql
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteStore opens (creating if needed) the sqlite file at path and migrates it
func NewSQLiteStore(path string, log *slog.Logger) (*SQLStore, error) {
	if config.IsInMemorySQLite(path) {
		return nil, fmt.Errorf("sqlite path %q: in-memory databases are not supported", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	if err := migrations.Apply(migrations.SQLite, "sqlite3://"+path, log); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	return &SQLStore{db: db, dialect: migrations.SQLite}, nil
}

// NewPostgresStore migrates and opens the database at dsn
func NewPostgresStore(dsn string, log *slog.Logger) (*SQLStore, error) {
	if err := migrations.Apply(migrations.Postgres, dsn, log); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLStore{db: db, dialect: migrations.Postgres}, nil
}

func (s *SQLStore) Create(ctx context.Context, link *model.Link) error {
	var lastVisited any
	if link.LastVisited != nil {
		lastVisited = link.LastVisited.UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO links ("+linkColumns+") VALUES (?, ?, ?, ?, ?, ?)"),
		link.OriginalURL, link.ShortID, link.MachineID, link.CreatedAt.UTC(), link.VisitCount, lastVisited,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateShortID
		}
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (s *SQLStore) GetByShortID(ctx context.Context, shortID string) (*model.Link, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT "+linkColumns+" FROM links WHERE short_id = ?"), shortID)
	return scanLink(row)
}

func (s *SQLStore) FindByURLAndMachine(ctx context.Context, originalURL, machineID string) (*model.Link, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT "+linkColumns+" FROM links WHERE original_url = ? AND machine_id = ? ORDER BY id LIMIT 1"),
		originalURL, machineID)
	return scanLink(row)
}

func (s *SQLStore) ListByMachine(ctx context.Context, machineID string) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT "+linkColumns+" FROM links WHERE machine_id = ? ORDER BY created_at DESC, id DESC"),
		machineID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	links := []model.Link{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// RecordVisit updates and re-reads the row inside one transaction. The
// UPDATE takes the row lock, so concurrent visits never lose an increment.
func (s *SQLStore) RecordVisit(ctx context.Context, shortID string, at time.Time) (*model.Link, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin visit: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.rebind(
		"UPDATE links SET visit_count = visit_count + 1, last_visited_at = ? WHERE short_id = ?"),
		at.UTC(), shortID)
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	link, err := scanLink(tx.QueryRowContext(ctx, s.rebind(
		"SELECT "+linkColumns+" FROM links WHERE short_id = ?"), shortID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit visit: %w", err)
	}
	return link, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*model.Link, error) {
	var (
		link        model.Link
		lastVisited sql.NullTime
	)

	err := row.Scan(&link.OriginalURL, &link.ShortID, &link.MachineID,
		&link.CreatedAt, &link.VisitCount, &lastVisited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}

	link.CreatedAt = link.CreatedAt.UTC()
	if lastVisited.Valid {
		t := lastVisited.Time.UTC()
		link.LastVisited = &t
	}
	return &link, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
