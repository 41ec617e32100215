package influx

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wigglebot/internal/pipeline"
	"github.com/banshee-data/wigglebot/internal/pose"
)

var at = time.Unix(1700000000, 0)

func TestPosePoint(t *testing.T) {
	e := pose.Estimate{X: 160, Y: 120, A: 1, B: 0, Residual: 0, Markers: 3}
	line := influxdb2_write.PointToLineProtocol(PosePoint("s1", at, e), time.Nanosecond)

	assert.True(t, strings.HasPrefix(line, "pose,quality=excellent,session=s1 "), line)
	assert.Contains(t, line, "x=160")
	assert.Contains(t, line, "y=120")
	assert.Contains(t, line, "markers=3i")
	assert.Contains(t, line, "1700000000000000000")
}

func TestStatsPoint(t *testing.T) {
	line := influxdb2_write.PointToLineProtocol(StatsPoint("s1", at, pipeline.Stats{Frames: 10, PosesDropped: 2}), time.Nanosecond)
	assert.True(t, strings.HasPrefix(line, "pipeline,session=s1 "), line)
	assert.Contains(t, line, "frames=10u")
	assert.Contains(t, line, "poses_dropped=2u")
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), Options{}, "s1", zerolog.Nop())
	assert.Error(t, err)
}

func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestConnect_UnreachableWithoutBackup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Connect(ctx, Options{URL: unreachableURL(t)}, "s1", zerolog.Nop())
	assert.Error(t, err)
}

func TestWriter_BackupFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	backup := filepath.Join(t.TempDir(), "telemetry.lp.gz")

	w, err := Connect(ctx, Options{URL: unreachableURL(t), BackupPath: backup}, "s1", zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, w.Live())

	require.NoError(t, w.RecordPose(ctx, at, pose.Estimate{X: 1, Y: 2, A: 1, Markers: 3}))
	require.NoError(t, w.RecordStats(at, pipeline.Stats{Frames: 1}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.RecordPose(ctx, at, pose.Estimate{}))

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	scan := bufio.NewScanner(gz)
	for scan.Scan() {
		if scan.Text() != "" {
			lines = append(lines, scan.Text())
		}
	}
	require.NoError(t, scan.Err())
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "pose,"))
	assert.True(t, strings.HasPrefix(lines[1], "pipeline,"))
}

func TestWriter_Live(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		query  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(body))
			query = r.URL.RawQuery
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	w, err := Connect(ctx, Options{URL: srv.URL, Token: "t", Org: "wigglebot", Bucket: "poses"}, "s1", zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, w.Live())

	require.NoError(t, w.RecordPose(ctx, at, pose.Estimate{X: 5, Y: 6, A: 1, Markers: 2}))
	require.NoError(t, w.Close())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, bodies[0], "pose,")
	assert.Contains(t, bodies[0], "x=5")
	assert.Contains(t, query, "bucket=poses")
	assert.Contains(t, query, "org=wigglebot")
}
