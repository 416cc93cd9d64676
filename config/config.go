// Package config decodes the map-stitching core's configuration, the small
// typed surface every other package reads its tunables from.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/viam-labs/map-stitch/logging"
)

// TimeWindow is one [t0, t1] seconds-since-session-start interval a loop
// source is gated to.
type TimeWindow struct {
	Start float64
	End   float64
}

// StitchConfig is the exhaustive set of recognized knobs (spec §6).
type StitchConfig struct {
	LoopClosureSearchRadius     float64                 `mapstructure:"loop_closure_search_radius" yaml:"loop_closure_search_radius"`
	KeyframeSearchNum           int                     `mapstructure:"keyframe_search_num" yaml:"keyframe_search_num"`
	LoopClosureFitnessScoreThld float64                 `mapstructure:"loop_closure_fitness_score_thld" yaml:"loop_closure_fitness_score_thld"`
	ICPDownsampSize             float64                 `mapstructure:"icp_downsamp_size" yaml:"icp_downsamp_size"`
	LoopKeyframeNumThld         int                     `mapstructure:"loop_keyframe_num_thld" yaml:"loop_keyframe_num_thld"`
	LoopVaildPeriod             map[string][]float64    `mapstructure:"loop_vaild_period" yaml:"loop_vaild_period"`
	SaveGlobalmapEn             bool                    `mapstructure:"save_globalmap_en" yaml:"save_globalmap_en"`
	SaveResolution              float64                 `mapstructure:"save_resolution" yaml:"save_resolution"`
	SCDistThres                 float64                 `mapstructure:"SC_DIST_THRES" yaml:"SC_DIST_THRES"`

	resolvedPeriods map[string][]TimeWindow
}

// Defaults mirror spec.md §6 exactly.
func Defaults() StitchConfig {
	return StitchConfig{
		LoopClosureSearchRadius:     10,
		KeyframeSearchNum:           20,
		LoopClosureFitnessScoreThld: 0.05,
		ICPDownsampSize:             0.1,
		LoopKeyframeNumThld:         50,
		LoopVaildPeriod:             map[string][]float64{},
		SaveGlobalmapEn:             false,
		SaveResolution:              0.1,
		SCDistThres:                 0.13,
	}
}

// FromAttributeMap decodes am over the documented defaults.
func FromAttributeMap(am AttributeMap) (*StitchConfig, error) {
	cfg := Defaults()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "building config decoder")
	}
	if err := decoder.Decode(map[string]interface{}(am)); err != nil {
		return nil, errors.Wrap(err, "decoding stitch config")
	}
	return &cfg, nil
}

// Load reads a YAML or JSON configuration file, selected by extension, and
// decodes it into a StitchConfig over the documented defaults.
func Load(path string) (*StitchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	var attrs AttributeMap
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &attrs); err != nil {
			return nil, errors.Wrap(err, "parsing json config")
		}
	case ".yaml", ".yml":
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "parsing yaml config")
		}
		attrs = AttributeMap(raw)
	default:
		return nil, errors.Errorf("unsupported config extension %q", filepath.Ext(path))
	}

	return FromAttributeMap(attrs)
}

// Validate checks loop_vaild_period for malformed (odd-length) interval
// lists. Per spec §4.4 / §9, a malformed list is logged as a warning and
// treated as "always on" for that source, never an error.
func (c *StitchConfig) Validate(logger *logging.Logger) {
	c.resolvedPeriods = map[string][]TimeWindow{}
	for source, flat := range c.LoopVaildPeriod {
		if len(flat)%2 != 0 {
			if logger != nil {
				logger.Warnw("malformed loop_vaild_period entry, treating as always-on",
					"source", source, "values", flat)
			}
			c.resolvedPeriods[source] = nil
			continue
		}
		windows := make([]TimeWindow, 0, len(flat)/2)
		for i := 0; i < len(flat); i += 2 {
			windows = append(windows, TimeWindow{Start: flat[i], End: flat[i+1]})
		}
		c.resolvedPeriods[source] = windows
	}
}

// PeriodsFor returns the resolved time windows for source, or nil (meaning
// always-on) if the source has no entry or was malformed. Validate must be
// called first.
func (c *StitchConfig) PeriodsFor(source string) []TimeWindow {
	if c.resolvedPeriods == nil {
		return nil
	}
	return c.resolvedPeriods[source]
}
