package geo

import (
	"archive/zip"
	"bytes"
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justdata-platform/justdata/internal/config"
)

func square(x, y, size float64) []shp.Point {
	return []shp.Point{
		{X: x, Y: y},
		{X: x + size, Y: y},
		{X: x + size, Y: y + size},
		{X: x, Y: y + size},
		{X: x, Y: y},
	}
}

// tractPolygon builds a single-ring polygon record with the counts, part
// offsets, and bounding box the shapefile writer serializes.
func tractPolygon(points []shp.Point) *shp.Polygon {
	box := shp.Box{MinX: points[0].X, MinY: points[0].Y, MaxX: points[0].X, MaxY: points[0].Y}
	for _, p := range points[1:] {
		box.MinX = math.Min(box.MinX, p.X)
		box.MinY = math.Min(box.MinY, p.Y)
		box.MaxX = math.Max(box.MaxX, p.X)
		box.MaxY = math.Max(box.MaxY, p.Y)
	}
	return &shp.Polygon{
		Box:       box,
		NumParts:  1,
		NumPoints: int32(len(points)),
		Parts:     []int32{0},
		Points:    points,
	}
}

// writeTractShapefile creates a real polygon shapefile with a GEOID
// attribute per record and returns the zipped shp/shx/dbf trio.
func writeTractShapefile(t *testing.T, tracts map[string][]shp.Point) []byte {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tract.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.StringField("GEOID", 20)})

	geoids := make([]string, 0, len(tracts))
	for id := range tracts {
		geoids = append(geoids, id)
	}
	sort.Strings(geoids)

	for i, id := range geoids {
		w.Write(tractPolygon(tracts[id]))
		w.WriteAttribute(i, 0, id)
	}
	w.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"tract.shp", "tract.shx", "tract.dbf"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tractServer(t *testing.T, zipBytes []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(zipBytes)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testLoader(t *testing.T, srv *httptest.Server) *BoundaryLoader {
	t.Helper()
	return NewBoundaryLoader(config.GeoConfig{
		TigerBaseURL: srv.URL + "/TIGER2023/TRACT",
		CacheDir:     t.TempDir(),
	}, srv.Client())
}

func TestTractBoundaries_FiltersByCounty(t *testing.T) {
	zipBytes := writeTractShapefile(t, map[string][]shp.Point{
		"24031700101": square(0, 0, 1),
		"24031700202": square(2, 0, 1),
		"24033900100": square(4, 0, 1),
	})
	srv, hits := tractServer(t, zipBytes)
	l := testLoader(t, srv)

	got, err := l.TractBoundaries(context.Background(), []string{"24031"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "24031700101", got[0].TractID)
	assert.Equal(t, "24031700202", got[1].TractID)
	assert.Equal(t, int32(1), hits.Load())

	require.Len(t, got[0].Rings, 1)
	ring := got[0].Rings[0]
	require.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[len(ring)-1], "ring must stay closed")
}

func TestTractBoundaries_OneFetchPerState(t *testing.T) {
	zipBytes := writeTractShapefile(t, map[string][]shp.Point{
		"24031700101": square(0, 0, 1),
		"51059480100": square(2, 2, 1),
	})
	srv, hits := tractServer(t, zipBytes)
	l := testLoader(t, srv)

	got, err := l.TractBoundaries(context.Background(), []string{"51059", "24031"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "24031700101", got[0].TractID)
	assert.Equal(t, "51059480100", got[1].TractID)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTractBoundaries_ReusesCachedZip(t *testing.T) {
	zipBytes := writeTractShapefile(t, map[string][]shp.Point{
		"24031700101": square(0, 0, 1),
	})
	srv, hits := tractServer(t, zipBytes)
	l := testLoader(t, srv)

	_, err := l.TractBoundaries(context.Background(), []string{"24031"})
	require.NoError(t, err)
	_, err = l.TractBoundaries(context.Background(), []string{"24031"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestTractBoundaries_RejectsBadCounty(t *testing.T) {
	srv, _ := tractServer(t, nil)
	l := testLoader(t, srv)

	_, err := l.TractBoundaries(context.Background(), []string{"2403"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid county code")
}

func TestPolygonRings_SkipsZeroArea(t *testing.T) {
	t.Parallel()
	collinear := []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 0, Y: 0}}
	assert.Empty(t, polygonRings(tractPolygon(collinear), maxRingPoints))
}

func TestPolygonRings_DecimatesDenseRings(t *testing.T) {
	t.Parallel()
	pts := make([]shp.Point, 0, 1001)
	for i := 0; i < 1000; i++ {
		angle := float64(i) / 1000 * 2 * math.Pi
		pts = append(pts, shp.Point{X: math.Cos(angle), Y: math.Sin(angle)})
	}
	pts = append(pts, pts[0])

	rings := polygonRings(tractPolygon(pts), 100)
	require.Len(t, rings, 1)
	assert.LessOrEqual(t, len(rings[0]), 103)
	assert.Equal(t, rings[0][0], rings[0][len(rings[0])-1])
}

func TestTigerYear(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "2023", tigerYear("https://www2.census.gov/geo/tiger/TIGER2023/TRACT"))
	assert.Equal(t, "2024", tigerYear("https://www2.census.gov/geo/tiger/TIGER2024/TRACT"))
	assert.Equal(t, "2023", tigerYear("https://mirror.example.com/tracts"))
}
