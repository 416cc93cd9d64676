package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/viam-labs/map-stitch/logging"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	test.That(t, d.LoopClosureSearchRadius, test.ShouldEqual, 10.0)
	test.That(t, d.KeyframeSearchNum, test.ShouldEqual, 20)
	test.That(t, d.LoopClosureFitnessScoreThld, test.ShouldEqual, 0.05)
	test.That(t, d.ICPDownsampSize, test.ShouldEqual, 0.1)
	test.That(t, d.LoopKeyframeNumThld, test.ShouldEqual, 50)
	test.That(t, d.SCDistThres, test.ShouldEqual, 0.13)
}

func TestFromAttributeMapOverridesDefaults(t *testing.T) {
	am := AttributeMap{
		"loop_closure_search_radius": 15.0,
		"loop_keyframe_num_thld":     100,
	}
	cfg, err := FromAttributeMap(am)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.LoopClosureSearchRadius, test.ShouldEqual, 15.0)
	test.That(t, cfg.LoopKeyframeNumThld, test.ShouldEqual, 100)
	test.That(t, cfg.KeyframeSearchNum, test.ShouldEqual, 20)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stitch.yaml")
	contents := "loop_closure_search_radius: 8\nsave_globalmap_en: true\n"
	test.That(t, os.WriteFile(path, []byte(contents), 0o644), test.ShouldBeNil)

	cfg, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.LoopClosureSearchRadius, test.ShouldEqual, 8.0)
	test.That(t, cfg.SaveGlobalmapEn, test.ShouldBeTrue)
	test.That(t, cfg.ICPDownsampSize, test.ShouldEqual, 0.1)
}

func TestValidateMalformedPeriodWarnsAndAlwaysOn(t *testing.T) {
	cfg := Defaults()
	cfg.LoopVaildPeriod = map[string][]float64{
		"odom":        {0, 10, 20, 30},
		"scancontext": {0, 10, 20},
	}
	logger := logging.NewTestLogger()
	cfg.Validate(logger)

	odom := cfg.PeriodsFor("odom")
	test.That(t, odom, test.ShouldHaveLength, 2)
	test.That(t, odom[0], test.ShouldResemble, TimeWindow{Start: 0, End: 10})

	sc := cfg.PeriodsFor("scancontext")
	test.That(t, sc, test.ShouldBeNil)

	test.That(t, cfg.PeriodsFor("unknown"), test.ShouldBeNil)
}
