package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/wigglebot/internal/config"
	"github.com/banshee-data/wigglebot/internal/db"
	"github.com/banshee-data/wigglebot/internal/engine"
	"github.com/banshee-data/wigglebot/internal/gocvcam"
	"github.com/banshee-data/wigglebot/internal/httputil"
	"github.com/banshee-data/wigglebot/internal/markers"
	"github.com/banshee-data/wigglebot/internal/monitoring"
	"github.com/banshee-data/wigglebot/internal/pipeline"
	"github.com/banshee-data/wigglebot/internal/pose"
	"github.com/banshee-data/wigglebot/internal/sim"
	"github.com/banshee-data/wigglebot/internal/stream"
	"github.com/banshee-data/wigglebot/internal/version"
)

// pulseEngine is what main needs from either engine implementation.
type pulseEngine interface {
	engine.Engine
	engine.Console
	Monitor(ctx context.Context) error
}

// openEngine opens the serial pulse engine, or an in-memory one when no
// port is configured.
func openEngine(cfg *config.Config) (pulseEngine, error) {
	path := cfg.GetEnginePort()
	if path == "" {
		monitoring.Logf("no engine_port configured, using in-memory pulse engine")
		return engine.NewMemoryEngine(), nil
	}
	e, err := engine.NewRealSerialEngine(path, engine.PortOptions{BaudRate: cfg.GetEngineBaudRate()})
	if err != nil {
		return nil, fmt.Errorf("open pulse engine on %s: %w", path, err)
	}
	return e, nil
}

// openCapture picks the OpenCV camera when it was compiled in, otherwise a
// simulated robot circling the middle of the frame.
func openCapture(cfg *config.Config, layout *markers.Layout, forceSim bool) (pipeline.Source, pipeline.Detector, error) {
	w, h := cfg.GetResolution()
	if gocvcam.Available() && !forceSim {
		return gocvcam.Open(gocvcam.Options{
			Device: cfg.GetCameraDevice(),
			Width:  w,
			Height: h,
			FPS:    cfg.GetFPS(),
		})
	}

	centre := markers.Point{X: float64(w) / 2, Y: float64(h) / 2}
	// Size the robot so the whole ring stays in frame on a circle of a
	// quarter of the short side.
	short := float64(min(w, h))
	reach := layout.Size()*math.Sqrt2/2 + cfg.GetMarkerDistance()
	scale := max(0.1, short/6/reach)
	scene := sim.NewScene(layout, w, h, sim.Circle(centre, short/4, 20*time.Second, scale))
	monitoring.Logf("using simulated camera (%dx%d, scale %.2f px/unit)", w, h, scale)

	det := sim.NewDetector(scene, uint64(time.Now().UnixNano()))
	det.NoisePx = 0.3
	return &sim.Camera{Scene: scene, FPS: cfg.GetFPS()}, det, nil
}

// debugSinks builds the frame sink for debug level 2: one render shared by
// the snapshot behind /debug/frame.png and any configured stream command or
// GStreamer pipeline. The returned closers must be closed on shutdown.
func debugSinks(ctx context.Context, cfg *config.Config, layout *markers.Layout) (*stream.SnapshotSink, *stream.RenderSink, []io.Closer, error) {
	r := stream.Renderer{Layout: layout, Scale: cfg.GetDebugScale()}
	snap := stream.NewSnapshotSink()
	sink := &stream.RenderSink{Renderer: r, Writers: []stream.ImageWriter{snap}}
	var closers []io.Closer

	w, h := cfg.GetResolution()
	sw := max(1, int(math.Round(float64(w)*r.Scale)))
	sh := max(1, int(math.Round(float64(h)*r.Scale)))

	if argv := cfg.StreamCmd; len(argv) > 0 {
		cs, err := stream.StartCommand(ctx, argv, sw, sh, cfg.GetFPS())
		if err != nil {
			return nil, nil, nil, err
		}
		sink.Writers = append(sink.Writers, cs)
		closers = append(closers, cs)
	}
	if elems := cfg.GStreamerPipe; len(elems) > 0 {
		gs, err := gocvcam.NewGStreamerSink(elems, sw, sh, cfg.GetFPS())
		switch {
		case errors.Is(err, gocvcam.ErrUnavailable):
			monitoring.Logf("gstreamer_pipe ignored: %v", err)
		case err != nil:
			return nil, nil, nil, err
		default:
			sink.Writers = append(sink.Writers, gs)
			closers = append(closers, gs)
		}
	}
	return snap, sink, closers, nil
}

// poseRecorder is implemented by the session log and the Influx writer.
type poseRecorder interface {
	RecordPose(ctx context.Context, at time.Time, e pose.Estimate) error
}

// openSessionLog opens the sqlite log and starts the session for this run.
// With db_path empty it returns nil for both and the run is not recorded.
func openSessionLog(ctx context.Context, cfg *config.Config) (*db.DB, *db.SessionLog, error) {
	path := cfg.GetDBPath()
	if path == "" {
		monitoring.Logf("no db_path configured, session log disabled")
		return nil, nil, nil
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	session, err := database.StartSession(ctx, version.String())
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}
	return database, session, nil
}

// listenDebug binds the debug server address. An empty address disables
// the server and returns a nil listener.
func listenDebug(addr string) (net.Listener, error) {
	if addr == "" {
		return nil, nil
	}
	return net.Listen("tcp", addr)
}

// debugMux wires the /debug routes. database may be nil when the session
// log is disabled.
func debugMux(eng engine.Console, database *db.DB, snap *stream.SnapshotSink, p *pipeline.Pipeline) *http.ServeMux {
	mux := http.NewServeMux()
	engine.AttachAdminRoutes(mux, eng)
	if database != nil {
		if err := database.AttachAdminRoutes(mux); err != nil {
			monitoring.Logf("failed to attach database routes: %v", err)
		}
	}
	snap.AttachAdminRoutes(mux)
	tsweb.Debugger(mux).HandleFunc("pipeline", "pipeline counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, p.Stats())
	})
	return mux
}
