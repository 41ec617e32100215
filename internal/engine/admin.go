package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/wigglebot/internal/waveform"
)

// Console is the part of an engine the admin routes need.
type Console interface {
	Program() Program
	SendCommand(ctx context.Context, command string) error
	Subscribe() (string, chan string)
	Unsubscribe(id string)
}

// AttachAdminRoutes attaches engine debugging endpoints to the /debug/ tree
// of mux. These routes are only reachable from localhost or the tailnet.
func AttachAdminRoutes(mux *http.ServeMux, c Console) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("engine", "current pulse engine program", func(w http.ResponseWriter, r *http.Request) {
		p := c.Program()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "running: %t\npulses: %d\nperiod: %dus\n\n", p.Running, len(p.Pulses), p.PeriodUS())
		io.WriteString(w, waveform.Format(p.Pulses))
	})

	// API endpoint to write a raw command line to the engine.
	debug.HandleSilentFunc("engine-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := c.SendCommand(ctx, command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to pulse engine", command)
	})

	// Server-Sent Events stream of lines coming back from the engine.
	debug.HandleSilentFunc("engine-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, ch := c.Subscribe()
		defer c.Unsubscribe(id)

		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case line, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
