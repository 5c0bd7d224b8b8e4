package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBusinessLocation(t *testing.T) {
	loc, err := LoadBusinessLocation("America/Mexico_City")
	require.NoError(t, err)
	assert.Equal(t, "America/Mexico_City", loc.String())

	_, err = LoadBusinessLocation("  ")
	assert.Error(t, err)

	_, err = LoadBusinessLocation("Mars/Olympus")
	assert.Error(t, err)
}

func TestNormalizeLocationName(t *testing.T) {
	cases := map[string]string{
		"  Plaza  Río ": "plaza rio",
		"CENTRO-Norte":  "centro-norte",
		"Mall\tSur":     "mall sur",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLocationName(in), in)
	}
}

func TestLocationMatches(t *testing.T) {
	patterns := []string{"plaza", " ", "CENTRO"}

	assert.True(t, LocationMatches("Plaza Río", patterns))
	assert.True(t, LocationMatches("Centro Norte", patterns))
	assert.False(t, LocationMatches("Mall Sur", patterns))
	assert.False(t, LocationMatches("", patterns))
	assert.False(t, LocationMatches("Plaza Río", nil))
}

func TestFormatDateTime(t *testing.T) {
	at := time.Date(2026, 10, 16, 17, 5, 0, 0, time.UTC)
	mx := time.FixedZone("CST", -6*60*60)

	assert.Equal(t, "16.10.2026 11:05", FormatDateTime(at, mx))
	assert.Equal(t, "16.10.2026 17:05", FormatDateTime(at, nil))
}
