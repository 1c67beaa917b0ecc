package warehouse

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/justdata-platform/justdata/internal/config"
)

// Pool is the subset of pgxpool.Pool the client needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Query is one parameterized warehouse statement. Params bind to $1..$n
// placeholders in SQL. Timeout, when set, overrides the client default for
// this statement only.
type Query struct {
	SQL     string
	Params  []any
	Timeout time.Duration
}

// Client executes read-only analytical queries against the warehouse.
type Client interface {
	Execute(ctx context.Context, q Query) (*Table, error)
	Ping(ctx context.Context) error
}

type poolClient struct {
	pool    Pool
	gate    *semaphore.Weighted
	timeout time.Duration
}

// NewClient wraps a pool with the shared concurrency gate and per-statement
// timeout from config.
func NewClient(pool Pool, cfg config.WarehouseConfig) Client {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 8
	}
	return &poolClient{
		pool:    pool,
		gate:    semaphore.NewWeighted(maxConc),
		timeout: cfg.QueryTimeout,
	}
}

// ResolveDSN picks the warehouse DSN: explicit override first, then the
// configured value, then the JUSTDATA_WAREHOUSE_DSN environment variable.
func ResolveDSN(override, configured string) (string, error) {
	for _, dsn := range []string{override, configured, os.Getenv("JUSTDATA_WAREHOUSE_DSN")} {
		if dsn != "" {
			return dsn, nil
		}
	}
	return "", eris.New("warehouse: no DSN configured")
}

// NewPool connects a pgx pool to the warehouse and verifies the connection.
func NewPool(ctx context.Context, dsn string, cfg config.WarehouseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: parse DSN")
	}

	maxConns := cfg.MaxConcurrent
	if maxConns <= 0 {
		maxConns = 8
	}
	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: create pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "warehouse: ping")
	}

	zap.L().Info("warehouse pool connected",
		zap.Int32("max_conns", poolCfg.MaxConns))
	return pool, nil
}

// Execute runs one statement under the shared gate and returns the fully
// collected result. Statement errors come back classified so callers can
// decide between retry and fail-fast.
func (c *poolClient) Execute(ctx context.Context, q Query) (*Table, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, translateError(ctx, ctx, err)
	}
	defer c.gate.Release(1)

	queryCtx := ctx
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := c.pool.Query(queryCtx, q.SQL, q.Params...)
	if err != nil {
		return nil, translateError(ctx, queryCtx, err)
	}
	defer rows.Close()

	table, err := collectRows(rows)
	if err != nil {
		return nil, translateError(ctx, queryCtx, err)
	}

	zap.L().Debug("warehouse query executed",
		zap.Int("rows", table.Len()),
		zap.Int("params", len(q.Params)),
		zap.Duration("elapsed", time.Since(start)))
	return table, nil
}

func (c *poolClient) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return translateError(ctx, ctx, err)
	}
	return nil
}

func collectRows(rows pgx.Rows) (*Table, error) {
	descs := rows.FieldDescriptions()
	cols := make([]Column, len(descs))
	for i, d := range descs {
		cols[i] = Column{Name: string(d.Name), Type: columnTypeForOID(d.DataTypeOID)}
	}
	table := NewTable(cols)

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "warehouse: read row")
		}
		normalized := make([]any, len(vals))
		for i, v := range vals {
			normalized[i] = normalizeValue(v)
		}
		if err := table.AppendRow(normalized); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

// columnTypeForOID maps the common postgres wire OIDs onto table types.
// Unknown OIDs fall back to string, matching pgx text decoding.
func columnTypeForOID(oid uint32) ColumnType {
	switch oid {
	case 20, 21, 23: // int8, int2, int4
		return ColInt
	case 700, 701, 1700: // float4, float8, numeric
		return ColFloat
	case 16: // bool
		return ColBool
	default:
		return ColString
	}
}
