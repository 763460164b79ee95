// Package frameio loads per-frame contour batches from JSON files produced
// by the extraction stage. It enforces the extraction contract (ordered
// timestamps, valid polygons) but performs no extraction itself.
package frameio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/sunspot-data/evolution.report/internal/contour"
	"github.com/sunspot-data/evolution.report/internal/geom"
	"github.com/sunspot-data/evolution.report/internal/monitoring"
)

// frameFile is the on-disk shape of one extracted frame.
type frameFile struct {
	FrameIndex int           `json:"frame_index"`
	Timestamp  time.Time     `json:"timestamp"`
	Contours   []contourJSON `json:"contours"`
}

type contourJSON struct {
	Class        string             `json:"class"`
	Polygon      [][2]float64       `json:"polygon"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
}

// LoadFrame parses one extracted frame file into a batch.
func LoadFrame(path string) (contour.FrameBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contour.FrameBatch{}, errors.Wrap(err, "read frame file")
	}

	var ff frameFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return contour.FrameBatch{}, errors.Wrapf(err, "parse %s", filepath.Base(path))
	}

	batch := contour.FrameBatch{
		FrameIndex: ff.FrameIndex,
		Timestamp:  ff.Timestamp,
	}
	for ci, c := range ff.Contours {
		poly := make(geom.Polygon, len(c.Polygon))
		for i, v := range c.Polygon {
			poly[i] = geom.Point{X: v[0], Y: v[1]}
		}
		rec, err := contour.NewRecord(ff.FrameIndex, ff.Timestamp,
			contour.FeatureClass(c.Class), poly, c.Measurements)
		if err != nil {
			return contour.FrameBatch{}, errors.Wrapf(err, "%s contour %d", filepath.Base(path), ci)
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

// LoadDirectory reads every .json frame file in the directory in name order
// and returns the validated batch sequence. Extraction stages name files so
// lexical order is time order.
func LoadDirectory(dir string) ([]contour.FrameBatch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read frame directory")
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, errors.Errorf("no frame files in %s", dir)
	}

	batches := make([]contour.FrameBatch, 0, len(names))
	for _, name := range names {
		batch, err := LoadFrame(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}

	if err := contour.ValidateSequence(batches); err != nil {
		return nil, err
	}
	monitoring.Logf("frameio: loaded %d frames from %s", len(batches), dir)
	return batches, nil
}
