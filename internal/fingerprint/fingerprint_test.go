package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pydpiper-go/pydpiperd/internal/fingerprint"
)

func TestComputeIsStableUnderInputOrder(t *testing.T) {
	a := fingerprint.Compute(fingerprint.Spec{
		Command:    []string{"mincblur", "-fwhm", "0.5"},
		InputPaths: []string{"b.mnc", "a.mnc"},
		Params:     map[string]string{"gradient": "true", "memory": "2"},
	})
	b := fingerprint.Compute(fingerprint.Spec{
		Command:    []string{"mincblur", "-fwhm", "0.5"},
		InputPaths: []string{"a.mnc", "b.mnc"},
		Params:     map[string]string{"memory": "2", "gradient": "true"},
	})
	assert.Equal(t, a, b)
}

func TestComputeDistinguishesCommandBoundaries(t *testing.T) {
	a := fingerprint.Compute(fingerprint.Spec{Command: []string{"a", "bc"}})
	b := fingerprint.Compute(fingerprint.Spec{Command: []string{"ab", "c"}})
	assert.NotEqual(t, a, b)
}

func TestComputeSensitiveToParams(t *testing.T) {
	base := fingerprint.Spec{Command: []string{"cmd"}, InputPaths: []string{"x"}}
	a := fingerprint.Compute(base)
	base.Params = map[string]string{"memory": "4"}
	b := fingerprint.Compute(base)
	assert.NotEqual(t, a, b)
}
