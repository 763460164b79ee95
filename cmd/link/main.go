// Command link runs the linking stage: it reads extracted per-frame contour
// batches, links them into tracks per feature class, and writes the result
// to a track archive.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/sunspot-data/evolution.report/internal/archive"
	"github.com/sunspot-data/evolution.report/internal/config"
	"github.com/sunspot-data/evolution.report/internal/contour"
	"github.com/sunspot-data/evolution.report/internal/frameio"
	"github.com/sunspot-data/evolution.report/internal/tracking"
	"github.com/sunspot-data/evolution.report/internal/version"
)

func main() {
	var (
		inputDir    = flag.String("input", "", "directory of extracted frame JSON files (required)")
		archivePath = flag.String("archive", "tracks.db", "track archive to write")
		configPath  = flag.String("config", "", "tuning config JSON (optional)")
		strict      = flag.Bool("strict", false, "fail on ambiguous associations instead of assigning")
		noSuppress  = flag.Bool("keep-nested", false, "keep tracks nested inside a larger same-class track")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("link %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *inputDir == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.EmptyTuningConfig()
	var rawCfg json.RawMessage
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		rawCfg, err = os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("read config: %v", err)
		}
	}

	batches, err := frameio.LoadDirectory(*inputDir)
	if err != nil {
		log.Fatalf("load frames: %v", err)
	}

	result, err := linkAllClasses(batches, cfg, *strict)
	if err != nil {
		log.Fatalf("link: %v", err)
	}

	if !*noSuppress {
		tracking.SuppressNested(result, cfg.GetMinContainment(), cfg.GetRasterCellSize())
	}
	tracking.AssociateNestedTracks(result, cfg.GetMinContainment(), cfg.GetRasterCellSize())

	a, err := archive.Open(*archivePath)
	if err != nil {
		log.Fatalf("open archive: %v", err)
	}
	defer a.Close()

	runID, err := a.SaveRun(rawCfg, result)
	if err != nil {
		log.Fatalf("save run: %v", err)
	}

	counts := map[tracking.EventKind]int{}
	for _, ev := range result.Events {
		counts[ev.Kind]++
	}
	log.Printf("run %s: %d tracks, %d unlinked records, %d umbrae attached to penumbrae",
		runID, len(result.Tracks), len(result.Unlinked), len(result.NestedOuter))
	log.Printf("events: %d births, %d deaths, %d splits, %d merges",
		counts[tracking.EventBirth], counts[tracking.EventDeath],
		counts[tracking.EventSplit], counts[tracking.EventMerge])

	nominal := time.Duration(cfg.GetNominalFrameIntervalSecs() * float64(time.Second))
	gapped, gaps := 0, 0
	for _, t := range result.Tracks {
		if g := t.Gaps(nominal, cfg.GetGapIntervalFactor()); len(g) > 0 {
			gapped++
			gaps += len(g)
		}
	}
	if gaps > 0 {
		log.Printf("observation gaps: %d across %d tracks (nominal interval %s)", gaps, gapped, nominal)
	}
}

// linkAllClasses runs one linker per feature class present in the input, all
// sharing a single id allocator so track ids stay unique across classes.
func linkAllClasses(batches []contour.FrameBatch, cfg *config.TuningConfig, strict bool) (*tracking.LinkResult, error) {
	classes := map[contour.FeatureClass]bool{}
	for _, b := range batches {
		for _, r := range b.Records {
			classes[r.Class] = true
		}
	}
	ordered := make([]contour.FeatureClass, 0, len(classes))
	for c := range classes {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	alloc := tracking.NewIDAllocator()
	merged := &tracking.LinkResult{Tracks: map[int64]*tracking.Track{}}

	for _, class := range ordered {
		lcfg := tracking.LinkerConfigFromTuning(cfg)
		lcfg.Class = class
		if !strict {
			lcfg.AmbiguityMargin = 0
		}

		result, err := tracking.NewLinker(lcfg, alloc).Link(batches)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", class, err)
		}
		for id, t := range result.Tracks {
			merged.Tracks[id] = t
		}
		merged.Events = append(merged.Events, result.Events...)
		merged.Unlinked = append(merged.Unlinked, result.Unlinked...)
	}
	return merged, nil
}
