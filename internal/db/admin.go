package db

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/wigglebot/internal/httputil"
)

// AttachAdminRoutes mounts SQL browsing, backups and a pose chart under
// /debug/ on mux. These routes are only reachable from localhost or the
// tailnet.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Wigglebot DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	debug.Handle("poses", "Trajectory of the latest session", http.HandlerFunc(db.handlePoseChart))
	debug.HandleFunc("sessions", "Recent sessions as JSON", db.handleSessions)
	return nil
}

// sessionSummary is the JSON form of a session with its record counts.
type sessionSummary struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Note      string     `json:"note,omitempty"`
	Poses     int        `json:"poses"`
	Programs  int        `json:"programs"`
}

// handleSessions lists recent sessions, newest first.
// Query params:
//   - limit (optional; default 20, max 1000)
func (db *DB) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	ctx := r.Context()
	sessions, err := db.Sessions(ctx, limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		sum := sessionSummary{ID: s.ID, StartedAt: s.StartedAt, Note: s.Note}
		if !s.EndedAt.IsZero() {
			ended := s.EndedAt
			sum.EndedAt = &ended
		}
		row := db.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(*) FROM poses WHERE session_id = ?),
			(SELECT COUNT(*) FROM programs WHERE session_id = ?)`, s.ID, s.ID)
		if err := row.Scan(&sum.Poses, &sum.Programs); err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, sum)
	}
	httputil.WriteJSONOK(w, out)
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("wigglebot-backup-%d.db", time.Now().UnixNano()))
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			opsf("failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		opsf("backup download: %v", err)
	}
}

// handlePoseChart renders the trajectory of a session as an HTML scatter.
// Query params:
//   - session (optional; defaults to the latest session)
//   - limit (optional; default 5000)
func (db *DB) handlePoseChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		s, err := db.LatestSession(ctx)
		if err != nil {
			http.Error(w, "no sessions recorded", http.StatusNotFound)
			return
		}
		sessionID = s.ID
	}

	limit := 5000
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100000 {
		limit = v
	}

	poses, err := db.SessionPoses(ctx, sessionID, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load poses: %v", err), http.StatusInternalServerError)
		return
	}
	if len(poses) == 0 {
		http.Error(w, "no poses in session", http.StatusNotFound)
		return
	}

	data := make([]opts.ScatterData, 0, len(poses))
	start := poses[0].CapturedAt
	for _, p := range poses {
		data = append(data, opts.ScatterData{
			Value: []interface{}{p.Estimate.X, p.Estimate.Y, p.CapturedAt.Sub(start).Seconds()},
		})
	}
	elapsed := poses[len(poses)-1].CapturedAt.Sub(start).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Wigglebot trajectory", Theme: "dark", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Robot position", Subtitle: fmt.Sprintf("session=%s poses=%d", sessionID, len(poses))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(elapsed),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("pose", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
