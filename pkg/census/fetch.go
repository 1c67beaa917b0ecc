package census

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/resilience"
)

// CountyDemographics fetches race/ethnicity population counts for a set of
// five-character county codes. One request per state; identical concurrent
// calls share a single fetch.
func (c *Client) CountyDemographics(ctx context.Context, counties []string, vintage Vintage) ([]DemographicsRow, error) {
	spec, ok := vintageSpecs[vintage]
	if !ok {
		return nil, eris.Errorf("census: unknown vintage %q", vintage)
	}
	byState, states := groupByState(counties)
	if len(states) == 0 {
		return nil, eris.New("census: no valid county codes")
	}

	key := "county|" + string(vintage) + "|" + strings.Join(sortedCopy(counties), ",")
	rows, err, _ := c.group.Do(key, func() (any, error) {
		var out []DemographicsRow
		for _, state := range states {
			vars := spec.demographicVars()
			u := fmt.Sprintf("%s/%s?get=%s&for=county:%s&in=state:%s",
				c.baseURL, spec.path, strings.Join(vars, ","), strings.Join(byState[state], ","), state)
			table, err := c.fetchTable(ctx, u)
			if err != nil {
				return nil, err
			}
			parsed, err := parseCountyRows(table, spec)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed...)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CountyCode < out[j].CountyCode })
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return rows.([]DemographicsRow), nil
}

// TractDistributions fetches the per-tract household distribution for the
// given counties: households, minority percent, and (ACS only) median
// household income.
func (c *Client) TractDistributions(ctx context.Context, counties []string, vintage Vintage) ([]TractRow, error) {
	spec, ok := vintageSpecs[vintage]
	if !ok {
		return nil, eris.Errorf("census: unknown vintage %q", vintage)
	}
	byState, states := groupByState(counties)
	if len(states) == 0 {
		return nil, eris.New("census: no valid county codes")
	}

	key := "tract|" + string(vintage) + "|" + strings.Join(sortedCopy(counties), ",")
	rows, err, _ := c.group.Do(key, func() (any, error) {
		var out []TractRow
		for _, state := range states {
			for _, county := range byState[state] {
				u := fmt.Sprintf("%s/%s?get=%s&for=tract:*&in=state:%s&in=county:%s",
					c.baseURL, spec.path, strings.Join(spec.tractVars(), ","), state, county)
				table, err := c.fetchTable(ctx, u)
				if err != nil {
					return nil, err
				}
				parsed, err := parseTractRows(table, spec)
				if err != nil {
					return nil, err
				}
				out = append(out, parsed...)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].TractID < out[j].TractID })
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return rows.([]TractRow), nil
}

// fetchTable performs one rate-limited, retried, breaker-guarded GET and
// decodes the API's row-oriented JSON array.
func (c *Client) fetchTable(ctx context.Context, fullURL string) ([][]string, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "census: acquire gate")
	}
	defer c.gate.Release(1)

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("census", "fetch")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([][]string, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([][]string, error) {
			return c.doFetch(ctx, fullURL)
		})
	})
}

func (c *Client) doFetch(ctx context.Context, fullURL string) ([][]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "census: rate limit wait")
	}

	requestURL := fullURL
	if c.apiKey != "" {
		requestURL += "&key=" + c.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "census: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "census: request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "census: read body"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.limiter.OnSuccess()
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.OnRateLimit()
		return nil, resilience.NewTransientError(
			eris.Errorf("census: status %d", resp.StatusCode), resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("census: status %d: %s", resp.StatusCode, excerpt(body)), resp.StatusCode)
	default:
		return nil, eris.Errorf("census: status %d: %s", resp.StatusCode, excerpt(body))
	}

	// An empty body means no geography matched; treat as zero rows.
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	var table [][]string
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, eris.Wrap(err, "census: decode response")
	}
	zap.L().Debug("census fetch", zap.String("url", fullURL), zap.Int("rows", len(table)))
	return table, nil
}

func parseCountyRows(table [][]string, spec vintageSpec) ([]DemographicsRow, error) {
	if len(table) < 2 {
		return nil, nil
	}
	idx, err := headerIndex(table[0])
	if err != nil {
		return nil, err
	}
	stateCol, ok := idx["state"]
	if !ok {
		return nil, eris.New("census: response missing state column")
	}
	countyCol, ok := idx["county"]
	if !ok {
		return nil, eris.New("census: response missing county column")
	}

	rows := make([]DemographicsRow, 0, len(table)-1)
	for _, rec := range table[1:] {
		row := DemographicsRow{
			CountyCode:  cell(rec, stateCol) + cell(rec, countyCol),
			Populations: make(map[string]int64, len(spec.vars)),
		}
		row.TotalPopulation = parseCount(cellAt(rec, idx, spec.total))
		for _, key := range shareKeys() {
			row.Populations[key] = parseCount(cellAt(rec, idx, spec.vars[key]))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseTractRows(table [][]string, spec vintageSpec) ([]TractRow, error) {
	if len(table) < 2 {
		return nil, nil
	}
	idx, err := headerIndex(table[0])
	if err != nil {
		return nil, err
	}
	stateCol, okS := idx["state"]
	countyCol, okC := idx["county"]
	tractCol, okT := idx["tract"]
	if !okS || !okC || !okT {
		return nil, eris.New("census: response missing tract geography columns")
	}

	rows := make([]TractRow, 0, len(table)-1)
	for _, rec := range table[1:] {
		row := TractRow{
			TractID:    cell(rec, stateCol) + cell(rec, countyCol) + cell(rec, tractCol),
			Households: parseCount(cellAt(rec, idx, spec.households)),
		}
		total := parseCount(cellAt(rec, idx, spec.total))
		white := parseCount(cellAt(rec, idx, spec.vars[KeyWhite]))
		if total > 0 {
			pct := float64(total-white) / float64(total) * 100
			row.MinorityPct = &pct
		}
		if spec.medianIncome != "" {
			if v, ok := parseDollars(cellAt(rec, idx, spec.medianIncome)); ok {
				row.MedianIncome = &v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func headerIndex(header []string) (map[string]int, error) {
	if len(header) == 0 {
		return nil, eris.New("census: empty header row")
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	return idx, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func cellAt(rec []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok {
		return ""
	}
	return cell(rec, i)
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseDollars parses a currency value, rejecting the API's negative
// suppression sentinels.
func parseDollars(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
