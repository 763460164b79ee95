// Command stats runs the statistics stage: it loads a phase-labeled run
// from the track archive and writes per-label and population summary tables
// as CSV.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sunspot-data/evolution.report/internal/archive"
	"github.com/sunspot-data/evolution.report/internal/segment"
	"github.com/sunspot-data/evolution.report/internal/stats"
	"github.com/sunspot-data/evolution.report/internal/tracking"
	"github.com/sunspot-data/evolution.report/internal/version"
)

func main() {
	var (
		archivePath = flag.String("archive", "tracks.db", "track archive")
		runID       = flag.String("run", "", "run id (default: latest run)")
		quantities  = flag.String("quantities", "area", "comma-separated series names")
		tables      = flag.String("tables", "by_phase,at_transition,phase_duration,population", "comma-separated summary tables to emit")
		outPath     = flag.String("out", "", "output CSV file (default: stdout)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("stats %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	a, err := archive.Open(*archivePath)
	if err != nil {
		log.Fatalf("open archive: %v", err)
	}
	defer a.Close()

	id := *runID
	if id == "" {
		id, err = a.LatestRun()
		if err != nil {
			log.Fatalf("resolve run: %v", err)
		}
	}

	result, err := a.LoadRun(id)
	if err != nil {
		log.Fatalf("load run %s: %v", id, err)
	}

	out := os.Stdout
	if *outPath != "" {
		out, err = os.Create(*outPath)
		if err != nil {
			log.Fatalf("create output: %v", err)
		}
		defer out.Close()
	}
	w := csv.NewWriter(out)
	defer w.Flush()

	header := []string{"quantity", "table", "group", "count", "mean", "median", "std", "min", "max", "p25", "p75"}
	if err := w.Write(header); err != nil {
		log.Fatalf("write header: %v", err)
	}

	wanted := make(map[string]bool)
	for _, table := range splitList(*tables) {
		switch table {
		case "by_phase", "at_transition", "phase_duration", "population":
			wanted[table] = true
		default:
			log.Fatalf("unknown table %q (want by_phase, at_transition, phase_duration or population)", table)
		}
	}

	for _, quantity := range splitList(*quantities) {
		if err := writeQuantity(w, a, id, quantity, result, wanted); err != nil {
			log.Fatalf("quantity %s: %v", quantity, err)
		}
	}
}

func writeQuantity(w *csv.Writer, a *archive.Archive, runID, quantity string, result *tracking.LinkResult, wanted map[string]bool) error {
	phaseRows, err := a.LoadPhases(runID, quantity)
	if err != nil {
		return err
	}

	items := make([]stats.TrackPhases, 0, len(phaseRows))
	for _, trackID := range sortedKeys(phaseRows) {
		t, ok := result.Tracks[trackID]
		if !ok {
			log.Printf("phase rows for unknown track %d, skipping", trackID)
			continue
		}
		items = append(items, stats.TrackPhases{Track: t, Phases: phaseRows[trackID]})
	}

	var failures []stats.Failure

	if wanted["by_phase"] {
		byLabel, bf := stats.SummarizeByLabel(items, quantity)
		failures = append(failures, bf...)
		if err := writeLabelTable(w, quantity, "by_phase", byLabel); err != nil {
			return err
		}
	}

	if wanted["at_transition"] {
		transitions, tf := stats.TransitionValues(items, quantity)
		failures = append(failures, tf...)
		if err := writeLabelTable(w, quantity, "at_transition", transitions); err != nil {
			return err
		}
	}

	if wanted["phase_duration"] {
		if err := writeLabelTable(w, quantity, "phase_duration", stats.PhaseDurations(items)); err != nil {
			return err
		}
	}

	if wanted["population"] {
		allTracks := make([]*tracking.Track, 0, len(result.Tracks))
		for _, id := range sortedTrackIDs(result.Tracks) {
			allTracks = append(allTracks, result.Tracks[id])
		}
		population, pf := stats.SummarizePopulation(allTracks, quantity)
		failures = append(failures, pf...)
		if err := writeRow(w, quantity, "population", "all_tracks", population); err != nil {
			return err
		}
	}

	for _, f := range failures {
		log.Printf("track %d excluded from %s statistics: %v", f.TrackID, quantity, f.Err)
	}
	return nil
}

func writeLabelTable(w *csv.Writer, quantity, table string, m map[segment.Label]stats.Summary) error {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, string(label))
	}
	sort.Strings(labels)
	for _, label := range labels {
		if err := writeRow(w, quantity, table, label, m[segment.Label(label)]); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(w *csv.Writer, quantity, table, group string, s stats.Summary) error {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', 8, 64) }
	return w.Write([]string{
		quantity, table, group,
		strconv.Itoa(s.Count),
		f(s.Mean), f(s.Median), f(s.Std), f(s.Min), f(s.Max), f(s.P25), f(s.P75),
	})
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortedKeys(m map[int64][]segment.Phase) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedTrackIDs(m map[int64]*tracking.Track) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
