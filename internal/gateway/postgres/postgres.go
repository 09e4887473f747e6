// Package postgres implements the gateway on PostgreSQL, with photos kept
// in a blob storage and zones kept in a table of circular geofences.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vivacius/asistenciacampo/internal/blobstore"
	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/query"
	"github.com/vivacius/asistenciacampo/internal/geofence"
	"github.com/vivacius/asistenciacampo/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Gateway is the PostgreSQL-backed gateway.
type Gateway struct {
	pool   *pgxpool.Pool
	blobs  blobstore.Storage
	logger *slog.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// New wraps pool. The schema is applied by Migrate.
func New(pool *pgxpool.Pool, blobs blobstore.Storage, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{pool: pool, blobs: blobs, logger: logger}
}

// Migrate creates the tables if they do not exist.
func (g *Gateway) Migrate(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

// SeedZones upserts zones in one transaction.
func (g *Gateway) SeedZones(ctx context.Context, zones []geofence.Zone) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, z := range zones {
		if err := z.Validate(); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO zones (code, name, lat, lon, radius_m)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (code) DO UPDATE SET
				name = EXCLUDED.name,
				lat = EXCLUDED.lat,
				lon = EXCLUDED.lon,
				radius_m = EXCLUDED.radius_m
		`, z.Code, z.Name, z.Lat, z.Lon, z.RadiusM)
		if err != nil {
			return fmt.Errorf("seed zone %s: %w", z.Code, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	g.logger.Info("zones seeded", "count", len(zones))
	return nil
}

// InsertRecord inserts row. A unique violation wraps gateway.ErrDuplicateKey.
func (g *Gateway) InsertRecord(ctx context.Context, table gateway.Table, row gateway.Row) error {
	sql, params, err := compileInsert(table, row)
	if err != nil {
		return err
	}
	if _, err := g.pool.Exec(ctx, sql, params...); err != nil {
		if isUniqueViolation(err) {
			key, _ := table.Key(row)
			return fmt.Errorf("insert %s %s: %w", table, key, gateway.ErrDuplicateKey)
		}
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// UploadBlob stores the object in the blob storage.
func (g *Gateway) UploadBlob(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if g.blobs == nil {
		return "", errors.New("upload: no blob storage configured")
	}
	url, err := blobstore.UploadBytes(ctx, g.blobs, path, data, contentType)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return url, nil
}

// QueryRecords runs q against table.
func (g *Gateway) QueryRecords(ctx context.Context, table gateway.Table, q query.Query) ([]gateway.Row, error) {
	sql, params, err := compileQuery(table, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	rows, err := g.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []gateway.Row{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(gateway.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// ResolveZone loads the zones and picks the nearest one containing the point.
func (g *Gateway) ResolveZone(ctx context.Context, lat, lon float64) (*record.Zone, error) {
	zones, err := listZones(ctx, g.pool)
	if err != nil {
		return nil, err
	}
	return geofence.Resolve(zones, lat, lon), nil
}

// Zones returns every configured zone ordered by code.
func (g *Gateway) Zones(ctx context.Context) ([]geofence.Zone, error) {
	return listZones(ctx, g.pool)
}

func listZones(ctx context.Context, q Querier) ([]geofence.Zone, error) {
	rows, err := q.Query(ctx, `SELECT code, name, lat, lon, radius_m FROM zones ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()

	var zones []geofence.Zone
	for rows.Next() {
		var z geofence.Zone
		if err := rows.Scan(&z.Code, &z.Name, &z.Lat, &z.Lon, &z.RadiusM); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	return zones, nil
}

// normalizeValue converts driver values to the shapes the row codecs accept.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case int16:
		return int(t)
	case int32:
		return int(t)
	default:
		return v
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
