// Command pose-plot renders the trajectory of a recorded session to PNG.
package main

import (
	"context"
	"flag"
	"log"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/wigglebot/internal/db"
)

func main() {
	dbPath := flag.String("db", "wigglebot.db", "path to sqlite DB file")
	sessionID := flag.String("session", "", "session ID (default: most recent)")
	limit := flag.Int("limit", 0, "maximum number of poses to plot (0 = all)")
	out := flag.String("out", "trajectory.png", "output PNG path")
	flag.Parse()

	database, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if *sessionID == "" {
		s, err := database.LatestSession(ctx)
		if err != nil {
			log.Fatalf("failed to find latest session: %v", err)
		}
		*sessionID = s.ID
	}

	poses, err := database.SessionPoses(ctx, *sessionID, *limit)
	if err != nil {
		log.Fatalf("failed to read poses: %v", err)
	}
	if len(poses) == 0 {
		log.Fatalf("session %s has no poses", *sessionID)
	}

	p, err := trajectoryPlot(*sessionID, poses)
	if err != nil {
		log.Fatalf("failed to build plot: %v", err)
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, *out); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("wrote %d poses of session %s to %s", len(poses), *sessionID, *out)
}
