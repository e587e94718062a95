package entitlement

import (
	"errors"
	"fmt"
	"maps"

	"github.com/dmitrymomot/aidash/pkg/config"
)

// DefaultFreeLimit applies to features missing from the limits table.
const DefaultFreeLimit int64 = 5

// Limits is the free-tier quota table.
type Limits struct {
	Default    int64
	PerFeature map[Feature]int64
}

// DefaultLimits returns the built-in free-tier table.
func DefaultLimits() Limits {
	return Limits{
		Default: DefaultFreeLimit,
		PerFeature: map[Feature]int64{
			FeatureCodeAssistant:   10,
			FeatureImageGeneration: 5,
			FeatureVideoGeneration: 3,
			FeatureMusicGeneration: 3,
		},
	}
}

// Of returns the quota for f, falling back to the default.
func (l Limits) Of(f Feature) int64 {
	if n, ok := l.PerFeature[f]; ok {
		return n
	}
	return l.Default
}

func (l Limits) clone() Limits {
	return Limits{Default: l.Default, PerFeature: maps.Clone(l.PerFeature)}
}

func (l Limits) validate() error {
	if l.Default < 0 {
		return fmt.Errorf("%w: default=%d", ErrInvalidLimit, l.Default)
	}
	for f, n := range l.PerFeature {
		if n < 0 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidLimit, f, n)
		}
	}
	return nil
}

type limitsFile struct {
	Default  *int64           `yaml:"default" env:"FREE_TIER_DEFAULT_LIMIT"`
	Features map[string]int64 `yaml:"features"`
}

// LoadLimits reads a YAML limits file and overlays it on DefaultLimits.
//
//	default: 5
//	features:
//	  code_assistant: 20
//	  video_generation: 1
func LoadLimits(path string) (Limits, error) {
	var f limitsFile
	if err := config.LoadYAML(path, &f); err != nil {
		return Limits{}, errors.Join(ErrFailedToLoadLimits, err)
	}

	l := DefaultLimits()
	if f.Default != nil {
		l.Default = *f.Default
	}
	for name, n := range f.Features {
		feature, err := ParseFeature(name)
		if err != nil {
			return Limits{}, errors.Join(ErrFailedToLoadLimits, err)
		}
		l.PerFeature[feature] = n
	}
	if err := l.validate(); err != nil {
		return Limits{}, errors.Join(ErrFailedToLoadLimits, err)
	}
	return l, nil
}
