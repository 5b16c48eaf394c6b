package gradescale

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/campusops/sits-bridge/pkg/config"
	appErrors "github.com/campusops/sits-bridge/pkg/errors"
)

// NotMarked is the SITS sentinel for an absent mark.
const NotMarked = -1

// Band maps a lower boundary to its band code.
type Band struct {
	Min  float64
	Code string
}

// Scale is either the open points scale or an ordered list of bands.
type Scale struct {
	ID     string
	Points bool
	Bands  []Band
}

// Registry resolves scale selectors and converts raw marks into
// scale-appropriate output values.
type Registry struct {
	scales    map[string]Scale
	defaultID string
	exemptID  string
}

// NewRegistry parses the configured scale definitions. Definitions are either
// the literal "points" or comma-separated "min:code" bands.
func NewRegistry(cfg config.ScalesConfig) (*Registry, error) {
	if cfg.DefaultScaleID == "" || cfg.ExemptScaleID == "" {
		return nil, fmt.Errorf("default and exempt scale ids are required")
	}
	scales := make(map[string]Scale, len(cfg.Definitions))
	for id, def := range cfg.Definitions {
		scale, err := parseScale(id, def)
		if err != nil {
			return nil, err
		}
		scales[id] = scale
	}
	for _, id := range []string{cfg.DefaultScaleID, cfg.ExemptScaleID} {
		if _, ok := scales[id]; !ok {
			return nil, fmt.Errorf("scale %q selected but not defined", id)
		}
	}
	return &Registry{scales: scales, defaultID: cfg.DefaultScaleID, exemptID: cfg.ExemptScaleID}, nil
}

// ResolveScaleID maps a spec's scale selector to a concrete scale id. An
// empty selector inherits the configured default, which differs for
// grade-exempt assignments.
func (r *Registry) ResolveScaleID(selector string, exempt bool) string {
	if selector != "" {
		return selector
	}
	if exempt {
		return r.exemptID
	}
	return r.defaultID
}

// Known reports whether a scale id is configured.
func (r *Registry) Known(scaleID string) bool {
	_, ok := r.scales[scaleID]
	return ok
}

// Convert maps a raw numeric mark onto the named scale. Absent marks (the -1
// sentinel or notMarked) become the scale's zero-equivalent rather than a
// negative value. An unknown scale id fails loudly: a wrongly-scaled grade
// uploaded to SITS is a data-integrity incident.
func (r *Registry) Convert(raw float64, notMarked bool, scaleID string) (string, error) {
	scale, ok := r.scales[scaleID]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrUnknownScale, fmt.Sprintf("grading scale %q is not configured", scaleID))
	}
	if notMarked || raw == NotMarked {
		return zeroEquivalent(scale), nil
	}
	if scale.Points {
		return strconv.Itoa(roundPoints(raw)), nil
	}
	return bandFor(scale, raw), nil
}

// roundPoints clamps to [0,100] and rounds half up.
func roundPoints(raw float64) int {
	clamped := math.Max(0, math.Min(100, raw))
	return int(math.Floor(clamped + 0.5))
}

func bandFor(scale Scale, value float64) string {
	code := scale.Bands[0].Code
	for _, band := range scale.Bands {
		if value >= band.Min {
			code = band.Code
		}
	}
	return code
}

func zeroEquivalent(scale Scale) string {
	if scale.Points {
		return "0"
	}
	return scale.Bands[0].Code
}

func parseScale(id, def string) (Scale, error) {
	def = strings.TrimSpace(def)
	if def == "points" {
		return Scale{ID: id, Points: true}, nil
	}
	parts := strings.Split(def, ",")
	bands := make([]Band, 0, len(parts))
	for _, part := range parts {
		pair := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(pair) != 2 || pair[1] == "" {
			return Scale{}, fmt.Errorf("scale %q: malformed band %q", id, part)
		}
		min, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return Scale{}, fmt.Errorf("scale %q: band boundary %q: %w", id, pair[0], err)
		}
		bands = append(bands, Band{Min: min, Code: pair[1]})
	}
	if len(bands) == 0 {
		return Scale{}, fmt.Errorf("scale %q has no bands", id)
	}
	sort.Slice(bands, func(i, j int) bool { return bands[i].Min < bands[j].Min })
	return Scale{ID: id, Bands: bands}, nil
}
