// Command phases runs the phase-segmentation stage: it loads a linked run
// from the track archive, partitions each track's series into labeled
// phases, and writes the phase rows back to the archive.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sunspot-data/evolution.report/internal/archive"
	"github.com/sunspot-data/evolution.report/internal/config"
	"github.com/sunspot-data/evolution.report/internal/contour"
	"github.com/sunspot-data/evolution.report/internal/pipeline"
	"github.com/sunspot-data/evolution.report/internal/segment"
	"github.com/sunspot-data/evolution.report/internal/tracking"
	"github.com/sunspot-data/evolution.report/internal/version"
)

func main() {
	var (
		archivePath = flag.String("archive", "tracks.db", "track archive")
		runID       = flag.String("run", "", "run id (default: latest run)")
		quantity    = flag.String("quantity", "area", "series to segment (\"area\" or a measurement name)")
		mode        = flag.String("mode", "all", "population: all, sunspots or pores")
		configPath  = flag.String("config", "", "tuning config JSON (optional)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("phases %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	switch *mode {
	case "all", "sunspots", "pores":
	default:
		log.Fatalf("unknown mode %q (want all, sunspots or pores)", *mode)
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
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

	tracks := filterMode(result.Tracks, *mode)
	if len(tracks) == 0 {
		log.Printf("run %s has no %s tracks, nothing to do", id, *mode)
		os.Exit(0)
	}

	seg := segment.NewSegmenter(segment.ConfigFromTuning(cfg))
	report := pipeline.SegmentTracks(tracks, *quantity, seg, cfg.GetSegmentWorkers())

	for trackID, phases := range report.Phases {
		if err := a.SavePhases(id, trackID, *quantity, phases); err != nil {
			log.Fatalf("save phases for track %d: %v", trackID, err)
		}
	}
	for _, f := range report.Failures {
		log.Printf("track %d skipped: %v", f.TrackID, f.Err)
	}
	log.Printf("run %s: %d tracks segmented, %d skipped", id, len(report.Phases), len(report.Failures))
}

// filterMode selects the population to segment: sunspots are the penumbra
// and umbra classes, pores stand alone.
func filterMode(tracks map[int64]*tracking.Track, mode string) map[int64]*tracking.Track {
	if mode == "all" {
		return tracks
	}
	keep := func(c contour.FeatureClass) bool {
		switch mode {
		case "sunspots":
			return c == contour.ClassPenumbra || c == contour.ClassUmbra
		case "pores":
			return c == contour.ClassPore
		}
		return false
	}
	out := make(map[int64]*tracking.Track)
	for id, t := range tracks {
		if keep(t.Class) {
			out[id] = t
		}
	}
	return out
}
