package geo

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/justdata-platform/justdata/internal/config"
	"github.com/justdata-platform/justdata/internal/model"
)

// maxRingPoints caps ring density in the report payload; TIGER tract
// outlines can carry thousands of vertices.
const maxRingPoints = 240

// BoundaryLoader supplies census-tract polygon rings from TIGER/Line
// state shapefiles, downloaded once and cached on disk.
type BoundaryLoader struct {
	cfg        config.GeoConfig
	httpClient *http.Client
}

// NewBoundaryLoader creates a loader. A nil client gets a ten-minute
// timeout default; the state shapefiles run tens of megabytes.
func NewBoundaryLoader(cfg config.GeoConfig, client *http.Client) *BoundaryLoader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &BoundaryLoader{cfg: cfg, httpClient: client}
}

// TractBoundaries returns rings for every tract inside the given counties,
// sorted by tract id. One shapefile per state is fetched.
func (l *BoundaryLoader) TractBoundaries(ctx context.Context, counties []string) ([]model.TractBoundary, error) {
	byState := make(map[string]map[string]struct{})
	for _, code := range counties {
		if len(code) != 5 {
			return nil, eris.Errorf("geo: invalid county code %q", code)
		}
		set, ok := byState[code[:2]]
		if !ok {
			set = make(map[string]struct{})
			byState[code[:2]] = set
		}
		set[code] = struct{}{}
	}
	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, s)
	}
	sort.Strings(states)

	var out []model.TractBoundary
	for _, state := range states {
		boundaries, err := l.stateBoundaries(ctx, state, byState[state])
		if err != nil {
			return nil, err
		}
		out = append(out, boundaries...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TractID < out[j].TractID })
	return out, nil
}

func (l *BoundaryLoader) stateBoundaries(ctx context.Context, state string, counties map[string]struct{}) ([]model.TractBoundary, error) {
	base := strings.TrimRight(l.cfg.TigerBaseURL, "/")
	url := fmt.Sprintf("%s/tl_%s_%s_tract.zip", base, tigerYear(base), state)

	shpPath, err := l.downloadShapefile(ctx, url)
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	geoidIdx := fieldIndex(reader, "GEOID")
	if geoidIdx < 0 {
		return nil, eris.New("geo: shapefile missing GEOID field")
	}

	var (
		out     []model.TractBoundary
		skipped int
	)
	for reader.Next() {
		_, shape := reader.Shape()
		geoid := strings.TrimSpace(strings.TrimRight(reader.Attribute(geoidIdx), "\x00"))
		if len(geoid) < 5 {
			continue
		}
		if _, ok := counties[geoid[:5]]; !ok {
			continue
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		rings := polygonRings(poly, maxRingPoints)
		if len(rings) == 0 {
			skipped++
			continue
		}
		out = append(out, model.TractBoundary{TractID: geoid, Rings: rings})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "geo: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped malformed tract shapes",
			zap.String("state", state),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

func (l *BoundaryLoader) downloadShapefile(ctx context.Context, url string) (string, error) {
	zipPath, err := fetchCached(ctx, l.httpClient, url, l.cfg.CacheDir)
	if err != nil {
		return "", eris.Wrap(err, "geo: download tract shapefile")
	}
	extractDir := strings.TrimSuffix(zipPath, ".zip")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "geo: create extract dir")
	}
	if err := extractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "geo: extract tract shapefile")
	}
	return findFileByExt(extractDir, ".shp")
}

// fieldIndex returns the index of a named field in the shapefile, or -1
// if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// tigerYear pulls the vintage out of a TIGER directory URL, defaulting to
// 2023 when the URL carries none.
func tigerYear(base string) string {
	idx := strings.Index(base, "TIGER")
	if idx >= 0 && len(base) >= idx+9 {
		year := base[idx+5 : idx+9]
		if allDigits(year) {
			return year
		}
	}
	return "2023"
}

// polygonRings converts a shapefile polygon into coordinate rings,
// dropping zero-area parts and decimating very dense rings. Each ring
// stays closed.
func polygonRings(p *shp.Polygon, maxPoints int) [][][2]float64 {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	rings := make([][][2]float64, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}
		n := int(end - start)
		if n < 4 {
			continue
		}

		flat := make([]float64, 0, n*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			continue
		}
		if math.Abs(poly.Area()) == 0 {
			continue
		}

		step := 1
		if maxPoints > 0 && n > maxPoints {
			step = (n + maxPoints - 1) / maxPoints
		}
		coords := make([][2]float64, 0, n/step+2)
		for j := start; j < end; j += int32(step) {
			coords = append(coords, [2]float64{p.Points[j].X, p.Points[j].Y})
		}
		last := [2]float64{p.Points[end-1].X, p.Points[end-1].Y}
		if coords[len(coords)-1] != last {
			coords = append(coords, last)
		}
		rings = append(rings, coords)
	}
	return rings
}
