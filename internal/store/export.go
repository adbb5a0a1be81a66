// Package store writes closed-loop run results to disk as JSON or CSV.
package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/san-kum/trailermpc/internal/sim"
)

type ExportData struct {
	Scenario   string             `json:"scenario"`
	Steps      int                `json:"steps"`
	Infeasible int                `json:"infeasible"`
	Times      []float64          `json:"times"`
	States     [][4]float64       `json:"states"`
	Steering   []float64          `json:"steering"`
	CrossTrack []float64          `json:"cross_track"`
	Metrics    map[string]float64 `json:"metrics"`
}

func newExportData(res *sim.Result) ExportData {
	data := ExportData{
		Scenario:   res.Scenario,
		Steps:      res.StepsTaken,
		Infeasible: res.Infeasible,
		Times:      res.Times,
		States:     make([][4]float64, len(res.States)),
		Steering:   res.Steering,
		CrossTrack: make([]float64, len(res.Records)),
		Metrics:    make(map[string]float64, len(res.Metrics)),
	}
	for i, s := range res.States {
		data.States[i] = [4]float64{s.X, s.Y, s.Heading, s.TrailerHeading}
	}
	for i, r := range res.Records {
		data.CrossTrack[i] = r.CrossTrack
	}
	// json cannot encode Inf, e.g. clearance without obstacles
	for k, v := range res.Metrics {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		data.Metrics[k] = v
	}
	return data
}

func WriteJSON(w io.Writer, res *sim.Result) error {
	if res == nil {
		return fmt.Errorf("store: nil result")
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newExportData(res))
}

// WriteCSV writes one row per recorded state. Row 0 is the initial state and
// has no tick record.
func WriteCSV(w io.Writer, res *sim.Result) error {
	if res == nil {
		return fmt.Errorf("store: nil result")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "x", "y", "heading", "trailer_heading", "steering", "cross_track", "failed"}); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for i, s := range res.States {
		row := []string{"", f(s.X), f(s.Y), f(s.Heading), f(s.TrailerHeading), "", "", "false"}
		if i < len(res.Times) {
			row[0] = f(res.Times[i])
		}
		if i < len(res.Steering) {
			row[5] = f(res.Steering[i])
		}
		if i > 0 && i-1 < len(res.Records) {
			rec := res.Records[i-1]
			row[6] = f(rec.CrossTrack)
			row[7] = strconv.FormatBool(rec.Failed())
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Export writes res to path, as CSV when the extension is .csv and JSON
// otherwise.
func Export(path string, res *sim.Result) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		err = WriteCSV(file, res)
	} else {
		err = WriteJSON(file, res)
	}
	if err != nil {
		return fmt.Errorf("store: export %s: %w", path, err)
	}
	return file.Close()
}
