package viz

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/trailermpc/internal/sim"
)

// Summary renders the metrics and counters of a finished run.
func Summary(res *sim.Result) string {
	var b strings.Builder
	name := res.Scenario
	if name == "" {
		name = "scenario"
	}
	b.WriteString(HeaderStyle.Render(strings.ToUpper(name)) + "\n")

	row := func(label, value string) {
		b.WriteString(MetricLabel.Render(label) + MetricValue.Render(value) + "\n")
	}
	row("steps", fmt.Sprintf("%d", res.StepsTaken))
	if res.Infeasible > 0 {
		b.WriteString(MetricLabel.Render("infeasible") + StatusFailed.Render(fmt.Sprintf("%d", res.Infeasible)) + "\n")
	} else {
		row("infeasible", "0")
	}
	if n := len(res.States); n > 0 {
		s := res.States[n-1]
		row("final pose", fmt.Sprintf("x=%.2f y=%.2f θ=%.1f°", s.X, s.Y, s.Heading*180/math.Pi))
	}

	names := make([]string, 0, len(res.Metrics))
	for k := range res.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		row(k, formatMetric(res.Metrics[k]))
	}
	return Panel.Render(strings.TrimRight(b.String(), "\n"))
}

func formatMetric(v float64) string {
	if math.IsInf(v, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.4f", v)
}

// Plots charts cross-track error and steering over the run.
func Plots(res *sim.Result, width int) string {
	if len(res.Records) < 2 {
		return ""
	}
	xtrack := make([]float64, len(res.Records))
	for i, r := range res.Records {
		xtrack[i] = r.CrossTrack
	}
	steer := make([]float64, len(res.Steering))
	for i, u := range res.Steering {
		steer[i] = u * 180 / math.Pi
	}

	opts := func(caption string) []asciigraph.Option {
		return []asciigraph.Option{
			asciigraph.Height(6),
			asciigraph.Width(width),
			asciigraph.Precision(2),
			asciigraph.Caption(caption),
		}
	}
	return asciigraph.Plot(xtrack, opts("cross-track [m]")...) + "\n\n" +
		asciigraph.Plot(steer, opts("steering [deg]")...)
}
