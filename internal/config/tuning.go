// Package config loads and validates the pipeline tuning parameters. All
// linker and segmenter thresholds are configuration, not constants: the
// phase-labeling heuristic is phenomenological and differs between feature
// classes (sunspots vs pores), so nothing here is hard-coded at call sites.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigurationError reports an invalid tuning value (e.g. a negative gap
// tolerance). It is fatal at stage startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// TuningConfig is the root tuning document. All fields are pointers so a
// partial JSON file overrides only what it names; the Get* accessors supply
// defaults for everything omitted.
type TuningConfig struct {
	// Linker params
	IoUWeight          *float64 `json:"iou_weight,omitempty"`
	AreaWeight         *float64 `json:"area_weight,omitempty"`
	QuantityWeight     *float64 `json:"quantity_weight,omitempty"`
	MatchQuantity      *string  `json:"match_quantity,omitempty"`
	ScoreThreshold     *float64 `json:"score_threshold,omitempty"`
	GapToleranceFrames *int     `json:"gap_tolerance_frames,omitempty"`
	AreaRatioMin       *float64 `json:"area_ratio_min,omitempty"`
	AreaRatioMax       *float64 `json:"area_ratio_max,omitempty"`
	RasterCellSize     *float64 `json:"raster_cell_size,omitempty"`
	AmbiguityMargin    *float64 `json:"ambiguity_margin,omitempty"`
	MinTrackFrames     *int     `json:"min_track_frames,omitempty"`
	MinContainment     *float64 `json:"min_containment,omitempty"`

	// Track params
	NominalFrameIntervalSecs *float64 `json:"nominal_frame_interval_secs,omitempty"`
	GapIntervalFactor        *float64 `json:"gap_interval_factor,omitempty"`

	// Segmenter params
	MinSegmentLength  *int     `json:"min_segment_length,omitempty"`
	SlopeThreshold    *float64 `json:"slope_threshold,omitempty"`
	PhaseCountMin     *int     `json:"phase_count_min,omitempty"`
	PhaseCountMax     *int     `json:"phase_count_max,omitempty"`
	SearchBudget      *int     `json:"search_budget,omitempty"`
	ModelSelection    *string  `json:"model_selection,omitempty"` // "ssr", "aic" or "bic"
	MinRelImprovement *float64 `json:"min_rel_improvement,omitempty"`
	GraceAttempts     *int     `json:"grace_attempts,omitempty"`
	NormalizeSeries   *bool    `json:"normalize_series,omitempty"`
	RejectOutliers    *bool    `json:"reject_outliers,omitempty"`

	// Segmentation fan-out
	SegmentWorkers *int `json:"segment_workers,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset; every Get*
// accessor then returns its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted from
// the JSON retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every set field is within its valid operating range.
func (c *TuningConfig) Validate() error {
	checkUnit := func(field string, v *float64) error {
		if v != nil && (*v < 0 || *v > 1) {
			return &ConfigurationError{Field: field, Reason: fmt.Sprintf("must be in [0, 1], got %v", *v)}
		}
		return nil
	}
	if err := checkUnit("iou_weight", c.IoUWeight); err != nil {
		return err
	}
	if err := checkUnit("area_weight", c.AreaWeight); err != nil {
		return err
	}
	if err := checkUnit("quantity_weight", c.QuantityWeight); err != nil {
		return err
	}
	if err := checkUnit("score_threshold", c.ScoreThreshold); err != nil {
		return err
	}
	if err := checkUnit("min_containment", c.MinContainment); err != nil {
		return err
	}

	if c.GapToleranceFrames != nil && *c.GapToleranceFrames < 0 {
		return &ConfigurationError{Field: "gap_tolerance_frames", Reason: fmt.Sprintf("must be non-negative, got %d", *c.GapToleranceFrames)}
	}
	if c.AreaRatioMin != nil && *c.AreaRatioMin <= 0 {
		return &ConfigurationError{Field: "area_ratio_min", Reason: "must be positive"}
	}
	if c.AreaRatioMax != nil && c.AreaRatioMin != nil && *c.AreaRatioMax < *c.AreaRatioMin {
		return &ConfigurationError{Field: "area_ratio_max", Reason: "must be >= area_ratio_min"}
	}
	if c.RasterCellSize != nil && *c.RasterCellSize <= 0 {
		return &ConfigurationError{Field: "raster_cell_size", Reason: "must be positive"}
	}
	if c.AmbiguityMargin != nil && *c.AmbiguityMargin < 0 {
		return &ConfigurationError{Field: "ambiguity_margin", Reason: "must be non-negative"}
	}
	if c.MinTrackFrames != nil && *c.MinTrackFrames < 1 {
		return &ConfigurationError{Field: "min_track_frames", Reason: "must be >= 1"}
	}
	if c.NominalFrameIntervalSecs != nil && *c.NominalFrameIntervalSecs <= 0 {
		return &ConfigurationError{Field: "nominal_frame_interval_secs", Reason: "must be positive"}
	}
	if c.GapIntervalFactor != nil && *c.GapIntervalFactor < 1 {
		return &ConfigurationError{Field: "gap_interval_factor", Reason: "must be >= 1"}
	}
	if c.MinSegmentLength != nil && *c.MinSegmentLength < 2 {
		return &ConfigurationError{Field: "min_segment_length", Reason: "must be >= 2 (a segment needs two samples for a line)"}
	}
	if c.SlopeThreshold != nil && *c.SlopeThreshold < 0 {
		return &ConfigurationError{Field: "slope_threshold", Reason: "must be non-negative"}
	}
	if c.PhaseCountMin != nil && *c.PhaseCountMin < 1 {
		return &ConfigurationError{Field: "phase_count_min", Reason: "must be >= 1"}
	}
	if c.PhaseCountMax != nil && c.PhaseCountMin != nil && *c.PhaseCountMax < *c.PhaseCountMin {
		return &ConfigurationError{Field: "phase_count_max", Reason: "must be >= phase_count_min"}
	}
	if c.SearchBudget != nil && *c.SearchBudget < 1 {
		return &ConfigurationError{Field: "search_budget", Reason: "must be >= 1"}
	}
	if c.ModelSelection != nil {
		switch *c.ModelSelection {
		case "ssr", "aic", "bic":
		default:
			return &ConfigurationError{Field: "model_selection", Reason: fmt.Sprintf("must be one of ssr, aic, bic; got %q", *c.ModelSelection)}
		}
	}
	if c.MinRelImprovement != nil && (*c.MinRelImprovement <= 0 || *c.MinRelImprovement > 1) {
		return &ConfigurationError{Field: "min_rel_improvement", Reason: "must be in (0, 1]"}
	}
	if c.GraceAttempts != nil && *c.GraceAttempts < 0 {
		return &ConfigurationError{Field: "grace_attempts", Reason: "must be non-negative"}
	}
	if c.SegmentWorkers != nil && *c.SegmentWorkers < 1 {
		return &ConfigurationError{Field: "segment_workers", Reason: "must be >= 1"}
	}
	return nil
}

// GetIoUWeight returns the spatial-overlap weight in the association score.
func (c *TuningConfig) GetIoUWeight() float64 {
	if c.IoUWeight == nil {
		return 0.6 // default
	}
	return *c.IoUWeight
}

// GetAreaWeight returns the area-similarity weight in the association score.
func (c *TuningConfig) GetAreaWeight() float64 {
	if c.AreaWeight == nil {
		return 0.25 // default
	}
	return *c.AreaWeight
}

// GetQuantityWeight returns the measured-quantity similarity weight.
func (c *TuningConfig) GetQuantityWeight() float64 {
	if c.QuantityWeight == nil {
		return 0.15 // default
	}
	return *c.QuantityWeight
}

// GetMatchQuantity returns the measurement name compared in the association
// score. Empty means the quantity term is skipped and its weight folded into
// the area term.
func (c *TuningConfig) GetMatchQuantity() string {
	if c.MatchQuantity == nil {
		return "intensity_mean" // default
	}
	return *c.MatchQuantity
}

// GetScoreThreshold returns the minimum association score; candidates below
// it birth new tracks instead of extending existing ones.
func (c *TuningConfig) GetScoreThreshold() float64 {
	if c.ScoreThreshold == nil {
		return 0.3 // default, matches the canonical IoU threshold
	}
	return *c.ScoreThreshold
}

// GetGapToleranceFrames returns how many consecutive unmatched frames an open
// track survives before it closes with a death event.
func (c *TuningConfig) GetGapToleranceFrames() int {
	if c.GapToleranceFrames == nil {
		return 3 // default
	}
	return *c.GapToleranceFrames
}

// GetAreaRatioBounds returns the early-rejection bounds on new/old area
// ratio: candidate pairs outside the bounds are never scored.
func (c *TuningConfig) GetAreaRatioBounds() (float64, float64) {
	min, max := 0.5, 2.0 // defaults
	if c.AreaRatioMin != nil {
		min = *c.AreaRatioMin
	}
	if c.AreaRatioMax != nil {
		max = *c.AreaRatioMax
	}
	return min, max
}

// GetRasterCellSize returns the sampling cell size for rasterised overlap.
func (c *TuningConfig) GetRasterCellSize() float64 {
	if c.RasterCellSize == nil {
		return 1.0 // default: one pixel in image coordinates
	}
	return *c.RasterCellSize
}

// GetAmbiguityMargin returns the strict-mode margin: when positive, a
// best/second-best score gap below it fails the run instead of guessing.
// Zero disables strict mode.
func (c *TuningConfig) GetAmbiguityMargin() float64 {
	if c.AmbiguityMargin == nil {
		return 0 // default: strict mode off
	}
	return *c.AmbiguityMargin
}

// GetMinTrackFrames returns the minimum lifetime (in observed frames) for a
// track to be kept; shorter tracks are demoted to unlinked noise.
func (c *TuningConfig) GetMinTrackFrames() int {
	if c.MinTrackFrames == nil {
		return 3 // default
	}
	return *c.MinTrackFrames
}

// GetMinContainment returns the minimum containment ratio for nested-track
// suppression and inner/outer association.
func (c *TuningConfig) GetMinContainment() float64 {
	if c.MinContainment == nil {
		return 0.8 // default
	}
	return *c.MinContainment
}

// GetNominalFrameIntervalSecs returns the nominal observation cadence.
func (c *TuningConfig) GetNominalFrameIntervalSecs() float64 {
	if c.NominalFrameIntervalSecs == nil {
		return 45.0 // default: HMI continuum cadence
	}
	return *c.NominalFrameIntervalSecs
}

// GetGapIntervalFactor returns the multiple of the nominal interval beyond
// which consecutive records count as a gap.
func (c *TuningConfig) GetGapIntervalFactor() float64 {
	if c.GapIntervalFactor == nil {
		return 1.5 // default
	}
	return *c.GapIntervalFactor
}

// GetMinSegmentLength returns the minimum samples per fitted segment.
func (c *TuningConfig) GetMinSegmentLength() int {
	if c.MinSegmentLength == nil {
		return 3 // default
	}
	return *c.MinSegmentLength
}

// GetSlopeThreshold returns the normalised slope magnitude separating
// stable from forming/decaying.
func (c *TuningConfig) GetSlopeThreshold() float64 {
	if c.SlopeThreshold == nil {
		return 0.00225 // default, calibrated on normalised flux series
	}
	return *c.SlopeThreshold
}

// GetPhaseCountRange returns the inclusive range of segment counts searched.
func (c *TuningConfig) GetPhaseCountRange() (int, int) {
	min, max := 1, 3 // defaults: up to forming/stable/decaying
	if c.PhaseCountMin != nil {
		min = *c.PhaseCountMin
	}
	if c.PhaseCountMax != nil {
		max = *c.PhaseCountMax
	}
	return min, max
}

// GetSearchBudget returns the maximum number of candidate breakpoint
// positions evaluated per series; longer series are coarsened to this grid.
func (c *TuningConfig) GetSearchBudget() int {
	if c.SearchBudget == nil {
		return 512 // default
	}
	return *c.SearchBudget
}

// GetModelSelection returns the criterion choosing among segment counts.
func (c *TuningConfig) GetModelSelection() string {
	if c.ModelSelection == nil {
		return "ssr" // default: relative SSR improvement with grace attempts
	}
	return *c.ModelSelection
}

// GetMinRelImprovement returns the minimum relative SSR improvement required
// to accept an extra segment under "ssr" selection.
func (c *TuningConfig) GetMinRelImprovement() float64 {
	if c.MinRelImprovement == nil {
		return 0.5 // default
	}
	return *c.MinRelImprovement
}

// GetGraceAttempts returns how many consecutive poor improvements are
// tolerated before the segment-count search stops.
func (c *TuningConfig) GetGraceAttempts() int {
	if c.GraceAttempts == nil {
		return 2 // default
	}
	return *c.GraceAttempts
}

// GetNormalizeSeries reports whether series are scaled by their maximum
// before fitting. Normalisation improves numerical stability and does not
// move breakpoints.
func (c *TuningConfig) GetNormalizeSeries() bool {
	if c.NormalizeSeries == nil {
		return true // default
	}
	return *c.NormalizeSeries
}

// GetRejectOutliers reports whether a one-pass linear-fit outlier rejection
// runs before breakpoint search.
func (c *TuningConfig) GetRejectOutliers() bool {
	if c.RejectOutliers == nil {
		return true // default
	}
	return *c.RejectOutliers
}

// GetSegmentWorkers returns the segmentation fan-out width.
func (c *TuningConfig) GetSegmentWorkers() int {
	if c.SegmentWorkers == nil {
		return 4 // default
	}
	return *c.SegmentWorkers
}
