// Package analytics provides a write-behind, query-only archive of
// completed flow records, per SPEC_FULL.md §4.7. It ingests records only
// after the flow cache has exported them and never feeds data back into
// the live cache, so the core engine's in-memory, restart-clean state is
// unaffected if this archive is absent or unreachable.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds archive database configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	PoolSize int
}

// Record is one exported flow, shaped for bulk insertion.
type Record struct {
	Time          time.Time
	SrcIP, DstIP  string
	SrcPort       uint16
	DstPort       uint16
	Proto         uint8
	SrcBytes      uint64
	DstBytes      uint64
	SrcPackets    uint64
	DstPackets    uint64
	DurationUs    int64
	ExportReason  string
}

// Archive is a write-behind sink for completed flow records plus a
// handful of read queries for operator dashboards.
type Archive struct {
	pool *pgxpool.Pool
	ctx  context.Context
}

// New connects to the archive database. Per SPEC_FULL.md §4.7 this is
// optional infrastructure: callers should treat a connection failure as
// non-fatal to the flow pipeline and run without an archive.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.PoolSize,
	)
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("analytics: parse config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.PoolSize)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("analytics: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("analytics: ping: %w", err)
	}
	return &Archive{pool: pool, ctx: ctx}, nil
}

// Close releases the connection pool.
func (a *Archive) Close() { a.pool.Close() }

// InsertRecords bulk-inserts exported flow records via COPY.
func (a *Archive) InsertRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	conn, err := a.pool.Acquire(a.ctx)
	if err != nil {
		return fmt.Errorf("analytics: acquire: %w", err)
	}
	defer conn.Release()

	columns := []string{
		"time", "src_ip", "dst_ip", "src_port", "dst_port", "proto",
		"src_bytes", "dst_bytes", "src_packets", "dst_packets",
		"duration_us", "export_reason",
	}
	_, err = conn.Conn().CopyFrom(
		a.ctx,
		pgx.Identifier{"flow_archive"},
		columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]interface{}, error) {
			r := records[i]
			return []interface{}{
				r.Time, r.SrcIP, r.DstIP, r.SrcPort, r.DstPort, r.Proto,
				r.SrcBytes, r.DstBytes, r.SrcPackets, r.DstPackets,
				r.DurationUs, r.ExportReason,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("analytics: copy: %w", err)
	}
	return nil
}

// TopTalker is one row of the top-talkers-by-bytes report.
type TopTalker struct {
	SrcIP        string
	TotalBytes   int64
	TotalPackets int64
	FlowCount    int64
}

// TopTalkers reports the top N source addresses by total bytes in
// [start, end], both ends included.
func (a *Archive) TopTalkers(start, end time.Time, limit int) ([]TopTalker, error) {
	rows, err := a.pool.Query(a.ctx, `
		SELECT src_ip, SUM(src_bytes+dst_bytes), SUM(src_packets+dst_packets), COUNT(*)
		FROM flow_archive
		WHERE time BETWEEN $1 AND $2
		GROUP BY src_ip
		ORDER BY 2 DESC
		LIMIT $3`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("analytics: query top talkers: %w", err)
	}
	defer rows.Close()

	var out []TopTalker
	for rows.Next() {
		var t TopTalker
		if err := rows.Scan(&t.SrcIP, &t.TotalBytes, &t.TotalPackets, &t.FlowCount); err != nil {
			return nil, fmt.Errorf("analytics: scan top talker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ProtocolStats is one row of the protocol-distribution report.
type ProtocolStats struct {
	Proto        uint8
	TotalBytes   int64
	TotalPackets int64
	FlowCount    int64
}

// ProtocolDistribution reports traffic volume grouped by IP protocol
// number in [start, end], both ends included.
func (a *Archive) ProtocolDistribution(start, end time.Time) ([]ProtocolStats, error) {
	rows, err := a.pool.Query(a.ctx, `
		SELECT proto, SUM(src_bytes+dst_bytes), SUM(src_packets+dst_packets), COUNT(*)
		FROM flow_archive
		WHERE time BETWEEN $1 AND $2
		GROUP BY proto
		ORDER BY 2 DESC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("analytics: query protocol distribution: %w", err)
	}
	defer rows.Close()

	var out []ProtocolStats
	for rows.Next() {
		var p ProtocolStats
		if err := rows.Scan(&p.Proto, &p.TotalBytes, &p.TotalPackets, &p.FlowCount); err != nil {
			return nil, fmt.Errorf("analytics: scan protocol stats: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
