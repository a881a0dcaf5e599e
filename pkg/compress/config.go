package compress

import (
	"fmt"
	"math"

	"sigs.k8s.io/yaml"
)

// RoundingMode selects how numeric values are normalized before compression.
type RoundingMode string

const (
	// RoundNone leaves values untouched.
	RoundNone RoundingMode = "none"
	// RoundSignificant rounds to N significant digits.
	RoundSignificant RoundingMode = "significant"
	// RoundFixed rounds to the nearest 10^-k for a configured k; negative
	// k rounds to powers of ten above 1.
	RoundFixed RoundingMode = "fixed"
)

// RoundingRule is the rounding policy of a single value type.
type RoundingRule struct {
	Mode   RoundingMode `json:"mode"`
	Digits int          `json:"digits,omitempty"`
}

// RoundingConfig maps value types to their rounding rules. Types without a
// rule are not rounded.
type RoundingConfig map[string]RoundingRule

type ErrRoundingConfig = error

func NewRoundingConfigError(content string, err error) ErrRoundingConfig {
	return fmt.Errorf("invalid rounding configuration %q: %w", content, err)
}

// LoadRoundingConfig parses a YAML rounding configuration.
func LoadRoundingConfig(data []byte) (RoundingConfig, error) {
	cfg := RoundingConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewRoundingConfigError(string(data), err)
	}
	for typ, rule := range cfg {
		switch rule.Mode {
		case RoundNone, RoundFixed:
		case RoundSignificant:
			if rule.Digits < 1 {
				return nil, NewRoundingConfigError(typ,
					fmt.Errorf("significant rounding needs at least 1 digit, got %d", rule.Digits))
			}
		default:
			return nil, NewRoundingConfigError(typ,
				fmt.Errorf("unknown rounding mode %q", rule.Mode))
		}
	}
	return cfg, nil
}

// round applies the configured rule for the given type. Non-numeric values
// pass through unchanged. Rounding is deterministic and total; ties go half
// away from zero.
func (cfg RoundingConfig) round(typ string, value any) any {
	rule, ok := cfg[typ]
	if !ok || rule.Mode == RoundNone {
		return normalizeNumber(value)
	}
	v, ok := asFloat(value)
	if !ok {
		return value
	}
	switch rule.Mode {
	case RoundSignificant:
		return roundSignificant(v, rule.Digits)
	case RoundFixed:
		return roundFixed(v, rule.Digits)
	default:
		return v
	}
}

// normalizeNumber collapses the numeric Go types onto float64 so that equal
// numbers always share one table key.
func normalizeNumber(value any) any {
	if v, ok := asFloat(value); ok {
		return v
	}
	return value
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func roundSignificant(v float64, digits int) float64 {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	mag := math.Floor(math.Log10(math.Abs(v)))
	scale := math.Pow(10, float64(digits-1)-mag)
	return math.Round(v*scale) / scale
}

func roundFixed(v float64, k int) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	scale := math.Pow(10, float64(k))
	return math.Round(v*scale) / scale
}
