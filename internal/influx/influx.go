// Package influx ships pose and pipeline telemetry to InfluxDB. When the
// server cannot be reached at startup, points are appended as gzipped line
// protocol to a backup file instead so a run is never lost.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/banshee-data/wigglebot/internal/pipeline"
	"github.com/banshee-data/wigglebot/internal/pose"
)

// Measurement names.
const (
	MeasurementPose     = "pose"
	MeasurementPipeline = "pipeline"
)

// Options selects the InfluxDB target.
type Options struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// BackupPath receives gzipped line protocol when the server is down.
	// Empty disables the fallback, making an unreachable server an error.
	BackupPath string
}

// Writer writes telemetry points for one session.
type Writer struct {
	session string
	logger  zerolog.Logger

	client influxdb2.Client
	api    influxdb2_api.WriteAPI

	mu         sync.Mutex
	backupFile *os.File
	backup     *gzip.Writer
}

// Connect pings the server and prepares a non-blocking writer. If the ping
// fails and opts.BackupPath is set, the writer falls back to the file.
func Connect(ctx context.Context, opts Options, session string, logger zerolog.Logger) (*Writer, error) {
	if opts.URL == "" {
		return nil, errors.New("influx: url is required")
	}
	w := &Writer{session: session, logger: logger.With().Str("component", "influx").Logger()}

	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := client.Ping(ctx)
	if err != nil || !running {
		client.Close()
		if opts.BackupPath == "" {
			return nil, fmt.Errorf("influx: %s unreachable: %v", opts.URL, err)
		}
		w.logger.Warn().Str("backupPath", opts.BackupPath).Msg("InfluxDB unreachable, writing to backup file")

		f, err := os.OpenFile(opts.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("influx: creating backup file: %w", err)
		}
		w.backupFile = f
		w.backup = gzip.NewWriter(f)
		return w, nil
	}

	w.client = client
	w.api = client.WriteAPI(opts.Org, opts.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			w.logger.Error().Err(writeErr).Str("bucket", opts.Bucket).Msg("Error sending data to InfluxDB")
		}
	}(w.api.Errors())

	w.logger.Info().Str("url", opts.URL).Str("bucket", opts.Bucket).Msg("InfluxDB writer initialized")
	return w, nil
}

// Live reports whether points go to the server rather than the backup.
func (w *Writer) Live() bool { return w.api != nil }

// PosePoint builds the point for one pose.
func PosePoint(session string, at time.Time, e pose.Estimate) *influxdb2_write.Point {
	return influxdb2.NewPoint(MeasurementPose,
		map[string]string{
			"session": session,
			"quality": string(pose.Grade(e)),
		},
		map[string]interface{}{
			"x":        e.X,
			"y":        e.Y,
			"angle":    e.Angle(),
			"scale":    e.Scale(),
			"residual": e.Residual,
			"markers":  e.Markers,
		},
		at)
}

// StatsPoint builds the point for a pipeline counter snapshot.
func StatsPoint(session string, at time.Time, s pipeline.Stats) *influxdb2_write.Point {
	return influxdb2.NewPoint(MeasurementPipeline,
		map[string]string{"session": session},
		map[string]interface{}{
			"frames":          s.Frames,
			"fast_path_hits":  s.FastPathHits,
			"fallbacks":       s.Fallbacks,
			"detector_errors": s.DetectorErrors,
			"solver_failures": s.SolverFailures,
			"poses_published": s.PosesPublished,
			"poses_dropped":   s.PosesDropped,
			"sink_failures":   s.SinkFailures,
			"frame_time_ms":   s.LastFrameTimeMS,
		},
		at)
}

// RecordPose queues a pose point.
func (w *Writer) RecordPose(_ context.Context, at time.Time, e pose.Estimate) error {
	return w.write(PosePoint(w.session, at, e))
}

// RecordStats queues a pipeline stats point.
func (w *Writer) RecordStats(at time.Time, s pipeline.Stats) error {
	return w.write(StatsPoint(w.session, at, s))
}

func (w *Writer) write(p *influxdb2_write.Point) error {
	if w.api != nil {
		w.api.WritePoint(p)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.backup == nil {
		return errors.New("influx: writer closed")
	}
	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := w.backup.Write([]byte(line)); err != nil {
		return fmt.Errorf("influx: writing backup: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client or backup file.
func (w *Writer) Close() error {
	if w.api != nil {
		w.api.Flush()
		w.client.Close()
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.backup == nil {
		return nil
	}
	err := errors.Join(w.backup.Close(), w.backupFile.Close())
	w.backup = nil
	return err
}
