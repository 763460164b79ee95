package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultsFromEmptyConfig(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetScoreThreshold(); got != 0.3 {
		t.Errorf("GetScoreThreshold() = %v, want 0.3", got)
	}
	if got := cfg.GetGapToleranceFrames(); got != 3 {
		t.Errorf("GetGapToleranceFrames() = %d, want 3", got)
	}
	min, max := cfg.GetAreaRatioBounds()
	if min != 0.5 || max != 2.0 {
		t.Errorf("GetAreaRatioBounds() = %v, %v; want 0.5, 2.0", min, max)
	}
	if lo, hi := cfg.GetPhaseCountRange(); lo != 1 || hi != 3 {
		t.Errorf("GetPhaseCountRange() = %d, %d; want 1, 3", lo, hi)
	}
	if got := cfg.GetAmbiguityMargin(); got != 0 {
		t.Errorf("GetAmbiguityMargin() = %v, want 0 (strict mode off)", got)
	}
	if !cfg.GetNormalizeSeries() {
		t.Error("GetNormalizeSeries() = false, want true by default")
	}
	if got := cfg.GetNominalFrameIntervalSecs(); got != 45.0 {
		t.Errorf("GetNominalFrameIntervalSecs() = %v, want 45", got)
	}
	if got := cfg.GetGapIntervalFactor(); got != 1.5 {
		t.Errorf("GetGapIntervalFactor() = %v, want 1.5", got)
	}
	// Weights should sum to 1 so scores stay in [0, 1].
	sum := cfg.GetIoUWeight() + cfg.GetAreaWeight() + cfg.GetQuantityWeight()
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("default score weights sum to %v, want 1", sum)
	}
}

func TestLoadTuningConfigPartialOverride(t *testing.T) {
	path := writeConfig(t, `{"score_threshold": 0.5, "gap_tolerance_frames": 7}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}
	if got := cfg.GetScoreThreshold(); got != 0.5 {
		t.Errorf("GetScoreThreshold() = %v, want 0.5", got)
	}
	if got := cfg.GetGapToleranceFrames(); got != 7 {
		t.Errorf("GetGapToleranceFrames() = %d, want 7", got)
	}
	// Untouched field keeps its default.
	if got := cfg.GetMinSegmentLength(); got != 3 {
		t.Errorf("GetMinSegmentLength() = %d, want default 3", got)
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("tuning.yaml"); err == nil {
		t.Error("expected error for non-.json extension")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"negative gap tolerance", `{"gap_tolerance_frames": -1}`},
		{"score threshold above 1", `{"score_threshold": 1.5}`},
		{"min segment length 1", `{"min_segment_length": 1}`},
		{"inverted phase count range", `{"phase_count_min": 3, "phase_count_max": 2}`},
		{"unknown model selection", `{"model_selection": "rmse"}`},
		{"inverted area ratio bounds", `{"area_ratio_min": 2.0, "area_ratio_max": 0.5}`},
		{"negative slope threshold", `{"slope_threshold": -0.1}`},
		{"zero search budget", `{"search_budget": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.json)
			_, err := LoadTuningConfig(path)
			var confErr *ConfigurationError
			if !errors.As(err, &confErr) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}
