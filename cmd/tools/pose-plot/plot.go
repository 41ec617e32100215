package main

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/wigglebot/internal/db"
)

// trajectoryPlot draws the layout origin's path in image coordinates, with
// y negated so the picture is the right way up, and marks both ends.
func trajectoryPlot(session string, poses []db.PoseRecord) (*plot.Plot, error) {
	if len(poses) == 0 {
		return nil, fmt.Errorf("no poses to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s - %d poses", session, len(poses))
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "-y (px)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, 0, len(poses))
	for _, r := range poses {
		pts = append(pts, plotter.XY{X: r.Estimate.X, Y: -r.Estimate.Y})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("path", line)

	ends := []struct {
		label string
		pt    plotter.XY
		col   color.Color
	}{
		{"start", pts[0], color.RGBA{G: 160, A: 255}},
		{"end", pts[len(pts)-1], color.RGBA{R: 214, G: 39, B: 40, A: 255}},
	}
	for _, e := range ends {
		s, err := plotter.NewScatter(plotter.XYs{e.pt})
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = e.col
		s.GlyphStyle.Radius = vg.Points(4)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add(e.label, s)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}
