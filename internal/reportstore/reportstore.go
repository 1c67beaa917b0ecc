// Package reportstore persists finalized reports. Each job gets a
// directory of artifacts (report.json, metadata.json, raw/*.json) under
// the store root, published atomically by writing into a temp directory
// and renaming. A SQLite catalog indexes job id to artifact path with an
// expiry timestamp; a cron sweeper removes expired directories and leaves
// the catalog row behind as a tombstone so reads after garbage collection
// distinguish "expired" from "never existed".
package reportstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/justdata-platform/justdata/internal/config"
	"github.com/justdata-platform/justdata/internal/model"
)

var (
	// ErrNotFound means the job id was never saved here.
	ErrNotFound = eris.New("reportstore: report not found")
	// ErrExpired means the report existed but its TTL has passed.
	ErrExpired = eris.New("reportstore: report expired")
)

const (
	defaultTTL      = 24 * time.Hour
	defaultSchedule = "*/10 * * * *"
)

// Store is the filesystem artifact store plus its SQLite catalog.
type Store struct {
	root     string
	ttl      time.Duration
	schedule string
	db       *sql.DB
	cron     *cron.Cron
}

// New opens the store rooted at cfg.Root and its catalog database,
// configuring WAL mode. Call Migrate before first use and StartGC to
// begin TTL sweeps.
func New(cfg config.StoreConfig) (*Store, error) {
	root := cfg.Root
	if root == "" {
		root = "./data/reports"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrap(err, "reportstore: create root")
	}

	catalogPath := cfg.CatalogPath
	if catalogPath == "" {
		catalogPath = filepath.Join(root, "catalog.db")
	}
	db, err := sql.Open("sqlite", catalogPath)
	if err != nil {
		return nil, eris.Wrap(err, "reportstore: open catalog")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "reportstore: exec %s", pragma)
		}
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	schedule := cfg.GCSchedule
	if schedule == "" {
		schedule = defaultSchedule
	}

	return &Store{
		root:     root,
		ttl:      ttl,
		schedule: schedule,
		db:       db,
		cron:     cron.New(),
	}, nil
}

const catalogMigration = `
CREATE TABLE IF NOT EXISTS reports (
	job_id     TEXT PRIMARY KEY,
	recipe     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	path       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_expires_at ON reports(expires_at);
`

// Migrate creates the catalog schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, catalogMigration)
	return eris.Wrap(err, "reportstore: migrate")
}

// StartGC schedules the TTL sweeper on the configured cron expression.
func (s *Store) StartGC() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		n, err := s.Sweep(context.Background())
		if err != nil {
			zap.L().Error("reportstore: gc sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			zap.L().Info("reportstore: gc removed expired artifacts", zap.Int("reports", n))
		}
	})
	if err != nil {
		return eris.Wrapf(err, "reportstore: gc schedule %q", s.schedule)
	}
	s.cron.Start()
	return nil
}

// Close stops the sweeper and closes the catalog.
func (s *Store) Close() error {
	s.cron.Stop()
	return eris.Wrap(s.db.Close(), "reportstore: close catalog")
}

// rawTable is one derived table written under raw/ for exporters and
// debugging.
type rawTable struct {
	name string
	data any
}

func rawTables(r *model.Report) []rawTable {
	tables := []rawTable{
		{"summary.json", r.Summary},
		{"by_demographic.json", r.ByDemographic},
		{"by_income_neighborhood.json", r.ByIncomeNeighborhood},
		{"by_lender.json", r.ByLender},
		{"by_lender_by_year.json", r.ByLenderByYear},
		{"concentration.json", r.Concentration},
		{"trends.json", r.Trends},
		{"demographic_context.json", r.DemographicContext},
	}
	if len(r.Branches) > 0 {
		tables = append(tables, rawTable{"branches.json", r.Branches})
	}
	if len(r.TractBoundaries) > 0 {
		tables = append(tables, rawTable{"tract_boundaries.json", r.TractBoundaries})
	}
	return tables
}

// Save writes the report's artifact directory and catalogs it. The write
// is atomic: everything lands in a temp directory first and a rename
// publishes it, so readers never observe a partial report.
func (s *Store) Save(ctx context.Context, r *model.Report) error {
	jobID := r.Metadata.JobID
	if jobID == "" {
		return eris.New("reportstore: report has no job id")
	}

	tmp, err := os.MkdirTemp(s.root, ".tmp-"+jobID+"-")
	if err != nil {
		return eris.Wrap(err, "reportstore: temp dir")
	}
	defer os.RemoveAll(tmp)

	if err := writeJSON(filepath.Join(tmp, "report.json"), r); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tmp, "metadata.json"), r.Metadata); err != nil {
		return err
	}
	rawDir := filepath.Join(tmp, "raw")
	if err := os.Mkdir(rawDir, 0o755); err != nil {
		return eris.Wrap(err, "reportstore: raw dir")
	}
	for _, t := range rawTables(r) {
		if err := writeJSON(filepath.Join(rawDir, t.name), t.data); err != nil {
			return err
		}
	}

	dir := filepath.Join(s.root, jobID)
	if err := os.RemoveAll(dir); err != nil {
		return eris.Wrapf(err, "reportstore: clear %s", jobID)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return eris.Wrapf(err, "reportstore: publish %s", jobID)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (job_id, recipe, created_at, expires_at, path) VALUES (?, ?, ?, ?, ?)`,
		jobID, r.Metadata.Recipe, now, now.Add(s.ttl), dir,
	)
	if err != nil {
		return eris.Wrapf(err, "reportstore: catalog %s", jobID)
	}
	return nil
}

// Get loads the stored report. ErrNotFound for unknown jobs, ErrExpired
// once the TTL has passed (whether or not the sweeper has run yet).
func (s *Store) Get(ctx context.Context, jobID string) (*model.Report, error) {
	entry, err := s.lookup(ctx, jobID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(entry.path, "report.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrExpired
		}
		return nil, eris.Wrapf(err, "reportstore: read report %s", jobID)
	}
	var r model.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrapf(err, "reportstore: unmarshal report %s", jobID)
	}
	return &r, nil
}

// Metadata loads just the metadata document.
func (s *Store) Metadata(ctx context.Context, jobID string) (*model.Metadata, error) {
	entry, err := s.lookup(ctx, jobID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(entry.path, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrExpired
		}
		return nil, eris.Wrapf(err, "reportstore: read metadata %s", jobID)
	}
	var m model.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "reportstore: unmarshal metadata %s", jobID)
	}
	return &m, nil
}

// Delete removes the artifacts and the catalog row, tombstone included.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	row := s.db.QueryRowContext(ctx, `SELECT path FROM reports WHERE job_id = ?`, jobID)
	var path string
	err := row.Scan(&path)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "reportstore: lookup %s", jobID)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE job_id = ?`, jobID); err != nil {
		return eris.Wrapf(err, "reportstore: delete row %s", jobID)
	}
	if path != "" {
		if err := os.RemoveAll(path); err != nil {
			return eris.Wrapf(err, "reportstore: delete artifacts %s", jobID)
		}
	}
	return nil
}

// Sweep removes the artifact directories of expired reports. Rows stay
// behind with an empty path so later reads map to ErrExpired. Returns the
// number of reports swept.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, path FROM reports WHERE expires_at <= ? AND path != ''`, now)
	if err != nil {
		return 0, eris.Wrap(err, "reportstore: list expired")
	}
	defer rows.Close()

	type expired struct{ jobID, path string }
	var batch []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.jobID, &e.path); err != nil {
			return 0, eris.Wrap(err, "reportstore: scan expired")
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "reportstore: iterate expired")
	}

	swept := 0
	for _, e := range batch {
		if err := os.RemoveAll(e.path); err != nil {
			zap.L().Warn("reportstore: sweep remove failed",
				zap.String("job_id", e.jobID), zap.Error(err))
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE reports SET path = '' WHERE job_id = ?`, e.jobID); err != nil {
			return swept, eris.Wrapf(err, "reportstore: tombstone %s", e.jobID)
		}
		swept++
	}
	return swept, nil
}

// Stats summarizes the store for the monitoring snapshot.
type Stats struct {
	Reports int   `json:"reports"`
	Bytes   int64 `json:"bytes"`
}

// Stats counts live (unexpired) reports and the bytes on disk under the
// store root.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports WHERE expires_at > ?`, time.Now().UTC())
	if err := row.Scan(&st.Reports); err != nil {
		return st, eris.Wrap(err, "reportstore: count reports")
	}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish mid-walk when a sweep runs concurrently.
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				st.Bytes += info.Size()
			}
		}
		return nil
	})
	if err != nil {
		return st, eris.Wrap(err, "reportstore: walk root")
	}
	return st, nil
}

type catalogEntry struct {
	recipe    string
	path      string
	createdAt time.Time
	expiresAt time.Time
}

func (s *Store) lookup(ctx context.Context, jobID string) (*catalogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT recipe, created_at, expires_at, path FROM reports WHERE job_id = ?`, jobID)

	var e catalogEntry
	err := row.Scan(&e.recipe, &e.createdAt, &e.expiresAt, &e.path)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "reportstore: lookup %s", jobID)
	}
	if !e.expiresAt.After(time.Now().UTC()) || e.path == "" {
		return nil, ErrExpired
	}
	return &e, nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "reportstore: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "reportstore: write %s", filepath.Base(path))
	}
	return nil
}
