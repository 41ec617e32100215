// Command wigglebot runs the robot: it tracks the marker ring on camera,
// drives the vibration motors through the pulse engine and serves debug
// pages on the listen address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/banshee-data/wigglebot/internal/actuator"
	"github.com/banshee-data/wigglebot/internal/config"
	"github.com/banshee-data/wigglebot/internal/db"
	"github.com/banshee-data/wigglebot/internal/engine"
	"github.com/banshee-data/wigglebot/internal/gocvcam"
	"github.com/banshee-data/wigglebot/internal/influx"
	"github.com/banshee-data/wigglebot/internal/monitoring"
	"github.com/banshee-data/wigglebot/internal/pipeline"
	"github.com/banshee-data/wigglebot/internal/stream"
	"github.com/banshee-data/wigglebot/internal/version"
)

var (
	configPath   = flag.String("config", config.DefaultConfigPath, "Path to the configuration file (.json, .yaml or .toml)")
	listen       = flag.String("listen", "", "Debug server listen address (overrides the config)")
	forceSim     = flag.Bool("sim", false, "Use the simulated camera even when OpenCV is available")
	influxBackup = flag.String("influx-backup", "", "Gzip line-protocol file used when InfluxDB is unreachable")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var logFile io.Writer
	if path := cfg.GetLogFile(); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("failed to open log file: %v", err)
		}
		defer f.Close()
		logFile = f
	}
	logger, logCloser, err := monitoring.Setup(monitoring.Options{
		Level:       cfg.GetLogLevel(),
		File:        logFile,
		GELFAddress: cfg.GetGELFAddress(),
	})
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer logCloser.Close()
	for _, set := range []func(l zerolog.Logger){
		pipeline.SetLogger, engine.SetLogger, actuator.SetLogger,
		db.SetLogger, stream.SetLogger, gocvcam.SetLogger,
	} {
		set(logger)
	}
	monitoring.Logf("starting %s", version.String())

	layout, err := cfg.Layout()
	if err != nil {
		log.Fatalf("invalid marker layout: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, session, err := openSessionLog(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	sessionID := uuid.NewString()
	var recorders []poseRecorder
	if session != nil {
		defer database.Close()
		defer func() {
			if err := session.End(context.Background()); err != nil {
				monitoring.Logf("failed to end session %s: %v", session.ID(), err)
			}
		}()
		sessionID = session.ID()
		recorders = append(recorders, session)
	}

	var telemetry *influx.Writer
	if s := cfg.GetInflux(); s.Enabled() {
		telemetry, err = influx.Connect(ctx, influx.Options{
			URL:        s.URL,
			Token:      s.Token,
			Org:        s.Org,
			Bucket:     s.Bucket,
			BackupPath: *influxBackup,
		}, sessionID, logger)
		if err != nil {
			monitoring.Logf("telemetry disabled: %v", err)
			telemetry = nil
		} else {
			defer telemetry.Close()
			recorders = append(recorders, telemetry)
		}
	}

	eng, err := openEngine(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer eng.Close()

	motors, err := actuator.NewMotors(eng, cfg.GetMotorPins(), cfg.GetMotorFreqHz())
	if err != nil {
		log.Fatalf("failed to set up motors: %v", err)
	}
	if session != nil {
		motors.SetRecorder(session)
	}

	src, det, err := openCapture(cfg, layout, *forceSim)
	if err != nil {
		log.Fatalf("failed to open camera: %v", err)
	}

	snapshot, sinks, sinkClosers, err := debugSinks(ctx, cfg, layout)
	if err != nil {
		log.Fatalf("failed to start debug stream: %v", err)
	}
	defer func() {
		for _, c := range sinkClosers {
			if err := c.Close(); err != nil {
				monitoring.Logf("failed to close debug stream: %v", err)
			}
		}
	}()

	p, err := pipeline.New(pipeline.Config{
		Layout:     layout,
		Detector:   det,
		Source:     src,
		ROISize:    cfg.GetROISize(),
		DebugLevel: cfg.GetDebugLevel(),
		DebugSink:  sinks,
		Status:     actuator.StatusLED{Engine: eng, Pin: cfg.GetStatusPin()},
	})
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the engine port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("failed to monitor pulse engine: %v", err)
		}
		monitoring.Logf("monitor routine terminated")
	}()

	if err := motors.Off(ctx); err != nil {
		monitoring.Logf("failed to stop motors: %v", err)
	}

	addr := cfg.GetListen()
	if *listen != "" {
		addr = *listen
	}
	ln, err := listenDebug(addr)
	switch {
	case err != nil:
		monitoring.Logf("debug server disabled: %v", err)
	case ln == nil:
		monitoring.Logf("no listen address configured, debug server disabled")
	default:
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(ctx, ln, debugMux(eng, database, snapshot, p))
		}()
	}

	if err := p.Start(ctx); err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}
	runDemo(ctx, p, motors, recorders, telemetry, cfg.GetRunDuration())

	if err := p.Terminate(); err != nil {
		monitoring.Logf("capture ended with error: %v", err)
	}
	offCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := motors.Off(offCtx); err != nil {
		monitoring.Logf("failed to stop motors: %v", err)
	}
	cancel()

	stop()
	wg.Wait()
	monitoring.Logf("graceful shutdown complete: %+v", p.Stats())
}

// runDemo sweeps the motors through the colour wheel for every published
// pose until the stream ends or runFor has passed.
func runDemo(ctx context.Context, p *pipeline.Pipeline, motors *actuator.Motors, recorders []poseRecorder, telemetry *influx.Writer, runFor time.Duration) {
	start := time.Now()
	lastStats := start
	for e := range p.Poses(ctx) {
		now := time.Now()
		t := now.Sub(start)

		phases, overlay := demoStep(t, runFor)
		if err := motors.Set(ctx, phases); err != nil {
			monitoring.Logf("failed to set motors: %v", err)
		}
		p.UpdateOverlay(overlay)

		for _, r := range recorders {
			if err := r.RecordPose(ctx, now, e); err != nil {
				monitoring.Logf("failed to record pose: %v", err)
			}
		}
		if telemetry != nil && now.Sub(lastStats) >= time.Second {
			if err := telemetry.RecordStats(now, p.Stats()); err != nil {
				monitoring.Logf("failed to record stats: %v", err)
			}
			lastStats = now
		}

		if runFor > 0 && t > runFor {
			monitoring.Logf("demo finished after %v", t.Round(time.Second))
			return
		}
	}
	if err := p.Err(); err != nil {
		monitoring.Logf("pose stream ended: %v", err)
	}
}

// serveDebug runs the debug server on ln until ctx is done.
func serveDebug(ctx context.Context, ln net.Listener, h http.Handler) {
	server := &http.Server{
		Handler: h,
	}

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("debug server stopped: %v", err)
		}
	}()
	monitoring.Logf("debug server listening on %s", ln.Addr())

	<-ctx.Done()
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server routine stopped")
}
