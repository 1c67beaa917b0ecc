package geo

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/config"
	"github.com/justdata-platform/justdata/internal/model"
)

// Expander resolves metros and states to their member counties using the
// CBSA delineation file and the national county list. Reference files are
// fetched lazily and cached on disk; county-only selections never touch
// the network.
type Expander struct {
	cfg        config.GeoConfig
	httpClient *http.Client

	mu     sync.Mutex
	metros map[string][]string
	states map[string][]string
}

// NewExpander creates an Expander backed by cfg's reference URLs. A nil
// client gets a two-minute timeout default.
func NewExpander(cfg config.GeoConfig, client *http.Client) *Expander {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Expander{cfg: cfg, httpClient: client}
}

// Expand resolves a geography selector to a sorted, deduplicated set of
// five-character county codes. Unknown metros and states are validation
// errors; cross-state metros resolve to counties in every member state.
func (e *Expander) Expand(ctx context.Context, sel model.GeographySelector) ([]string, error) {
	if sel.Empty() {
		return nil, &model.ValidationError{Field: "geography", Reason: "at least one county, metro, or state is required"}
	}

	counties := make([]string, 0, len(sel.Counties))
	for _, c := range sel.Counties {
		code, err := NormalizeCounty(c)
		if err != nil {
			return nil, &model.ValidationError{Field: "geography.counties", Reason: err.Error()}
		}
		counties = append(counties, code)
	}

	var metroCounties []string
	if len(sel.Metros) > 0 {
		metros, err := e.ensureMetros(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range sel.Metros {
			members := metros[strings.TrimSpace(m)]
			if len(members) == 0 {
				return nil, &model.ValidationError{Field: "geography.metros", Reason: fmt.Sprintf("unknown CBSA code %q", m)}
			}
			metroCounties = append(metroCounties, members...)
		}
	}

	var stateCounties []string
	if len(sel.States) > 0 {
		states, err := e.ensureStates(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range sel.States {
			code, err := NormalizeState(s)
			if err != nil {
				return nil, &model.ValidationError{Field: "geography.states", Reason: err.Error()}
			}
			members := states[code]
			if len(members) == 0 {
				return nil, &model.ValidationError{Field: "geography.states", Reason: fmt.Sprintf("unknown state FIPS %q", s)}
			}
			stateCounties = append(stateCounties, members...)
		}
	}

	out := Combine(counties, metroCounties, stateCounties)
	if len(out) == 0 {
		return nil, &model.ValidationError{Field: "geography", Reason: "selection resolved to no counties"}
	}
	return out, nil
}

func (e *Expander) ensureMetros(ctx context.Context) (map[string][]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.metros != nil {
		return e.metros, nil
	}

	path, err := fetchCached(ctx, e.httpClient, e.cfg.DelineationURL, e.cfg.CacheDir)
	if err != nil {
		return nil, eris.Wrap(err, "geo: fetch delineation file")
	}
	metros, err := parseDelineation(path)
	if err != nil {
		return nil, err
	}
	zap.L().Info("geo: delineation file loaded", zap.Int("metros", len(metros)))
	e.metros = metros
	return metros, nil
}

func (e *Expander) ensureStates(ctx context.Context) (map[string][]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.states != nil {
		return e.states, nil
	}

	path, err := fetchCached(ctx, e.httpClient, e.cfg.CountiesURL, e.cfg.CacheDir)
	if err != nil {
		return nil, eris.Wrap(err, "geo: fetch county list")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open county list")
	}
	defer f.Close() //nolint:errcheck

	states, err := parseCountyList(f)
	if err != nil {
		return nil, err
	}
	zap.L().Info("geo: county list loaded", zap.Int("states", len(states)))
	e.states = states
	return states, nil
}

// parseDelineation reads the CBSA delineation file and returns CBSA code →
// member county codes. The census file is xlsx; csv mirrors work too.
func parseDelineation(path string) (map[string][]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSVRows(path)
	default:
		rows, err = readXLSXRows(path)
	}
	if err != nil {
		return nil, err
	}
	return delineationFromRows(rows)
}

func readXLSXRows(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open delineation xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("geo: delineation file has no sheets")
	}
	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open delineation csv")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "geo: read delineation csv")
	}
	return rows, nil
}

// delineationFromRows locates the header row and builds the CBSA index.
// The file carries preamble and footnote rows; anything without a numeric
// CBSA code is skipped.
func delineationFromRows(rows [][]string) (map[string][]string, error) {
	headerIdx := -1
	var cols map[string]int
	for i, row := range rows {
		if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "CBSA Code") {
			cols = make(map[string]int, len(row))
			for j, name := range row {
				cols[strings.ToLower(strings.TrimSpace(name))] = j
			}
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, eris.New("geo: delineation header row not found")
	}

	cbsaCol, okB := cols["cbsa code"]
	stateCol, okS := cols["fips state code"]
	countyCol, okC := cols["fips county code"]
	if !okB || !okS || !okC {
		return nil, eris.New("geo: delineation file missing required columns")
	}

	metros := make(map[string][]string)
	for _, row := range rows[headerIdx+1:] {
		if cbsaCol >= len(row) || stateCol >= len(row) || countyCol >= len(row) {
			continue
		}
		cbsa := strings.TrimSpace(row[cbsaCol])
		if !allDigits(cbsa) {
			continue
		}
		state, err := NormalizeState(row[stateCol])
		if err != nil {
			continue
		}
		county := padCountySuffix(row[countyCol])
		if county == "" {
			continue
		}
		metros[cbsa] = append(metros[cbsa], state+county)
	}
	for code := range metros {
		sort.Strings(metros[code])
	}
	return metros, nil
}

// parseCountyList reads the national county file: pipe-delimited with a
// header in current vintages, comma-delimited without one in older ones.
// Returns state FIPS → county codes.
func parseCountyList(r io.Reader) (map[string][]string, error) {
	states := make(map[string][]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sep := ","
		if strings.Contains(line, "|") {
			sep = "|"
		}
		fields := strings.Split(line, sep)
		if len(fields) < 3 || strings.EqualFold(strings.TrimSpace(fields[0]), "STATE") {
			continue
		}
		state, err := NormalizeState(fields[1])
		if err != nil {
			continue
		}
		county := padCountySuffix(fields[2])
		if county == "" {
			continue
		}
		states[state] = append(states[state], state+county)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "geo: read county list")
	}
	for s := range states {
		sort.Strings(states[s])
	}
	return states, nil
}

// padCountySuffix normalizes the three-digit county FIPS suffix, returning
// "" for junk.
func padCountySuffix(s string) string {
	s = strings.TrimSpace(s)
	if !allDigits(s) || len(s) > 3 {
		return ""
	}
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
