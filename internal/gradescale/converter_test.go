package gradescale

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/sits-bridge/pkg/config"
	appErrors "github.com/campusops/sits-bridge/pkg/errors"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(config.ScalesConfig{
		DefaultScaleID: "grademarkscale",
		ExemptScaleID:  "grademarkexemptscale",
		Definitions: map[string]string{
			"points":               "points",
			"grademarkscale":       "0:N,30:F,40:D,50:C,60:B,70:A",
			"grademarkexemptscale": "0:N,40:P,70:M",
		},
	})
	require.NoError(t, err)
	return reg
}

func TestNewRegistryRejectsUndefinedSelection(t *testing.T) {
	_, err := NewRegistry(config.ScalesConfig{
		DefaultScaleID: "missing",
		ExemptScaleID:  "missing",
		Definitions:    map[string]string{"points": "points"},
	})
	assert.Error(t, err)
}

func TestNewRegistryRejectsMalformedBand(t *testing.T) {
	_, err := NewRegistry(config.ScalesConfig{
		DefaultScaleID: "broken",
		ExemptScaleID:  "broken",
		Definitions:    map[string]string{"broken": "0:N,abc"},
	})
	assert.Error(t, err)
}

func TestResolveScaleID(t *testing.T) {
	reg := testRegistry(t)

	assert.Equal(t, "points", reg.ResolveScaleID("points", false))
	assert.Equal(t, "grademarkscale", reg.ResolveScaleID("", false))
	assert.Equal(t, "grademarkexemptscale", reg.ResolveScaleID("", true))
}

func TestConvertPointsRounding(t *testing.T) {
	reg := testRegistry(t)

	cases := map[float64]string{
		59.4:  "59",
		59.5:  "60",
		0:     "0",
		100:   "100",
		104.2: "100", // clamped
		-3:    "0",   // clamped, not the absent-mark sentinel
	}
	for raw, want := range cases {
		got, err := reg.Convert(raw, false, "points")
		require.NoError(t, err)
		assert.Equal(t, want, got, "raw %v", raw)
	}
}

func TestConvertBands(t *testing.T) {
	reg := testRegistry(t)

	cases := map[float64]string{
		0:    "N",
		29.9: "N",
		30:   "F",
		55:   "C",
		69.9: "B",
		70:   "A",
		98:   "A",
	}
	for raw, want := range cases {
		got, err := reg.Convert(raw, false, "grademarkscale")
		require.NoError(t, err)
		assert.Equal(t, want, got, "raw %v", raw)
	}
}

func TestConvertAbsentMark(t *testing.T) {
	reg := testRegistry(t)

	got, err := reg.Convert(NotMarked, false, "points")
	require.NoError(t, err)
	assert.Equal(t, "0", got)

	got, err = reg.Convert(85, true, "grademarkscale")
	require.NoError(t, err)
	assert.Equal(t, "N", got)
}

func TestConvertUnknownScaleFails(t *testing.T) {
	reg := testRegistry(t)

	_, err := reg.Convert(50, false, "nope")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrUnknownScale.Code, appErr.Code)
}
