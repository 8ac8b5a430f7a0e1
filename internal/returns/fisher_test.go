package returns

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFisherZKnownValues(t *testing.T) {
	assert.InDelta(t, 0.0, FisherZ(0), 1e-12)
	assert.InDelta(t, 0.5493061443, FisherZ(0.5), 1e-9)
	assert.InDelta(t, -0.5493061443, FisherZ(-0.5), 1e-9)
}

func TestFisherZFiniteAtExtremes(t *testing.T) {
	for _, rho := range []float64{1, -1, 1.0000001, -1.0000001} {
		z := FisherZ(rho)
		assert.False(t, math.IsInf(z, 0), "rho=%v", rho)
		assert.False(t, math.IsNaN(z), "rho=%v", rho)
	}
	assert.Positive(t, FisherZ(1))
	assert.Negative(t, FisherZ(-1))
}

func TestFisherRoundTrip(t *testing.T) {
	// Inverse transform recovers rho strictly inside (-1, 1).
	for _, rho := range []float64{-0.99, -0.75, -0.3, 0, 0.1, 0.5, 0.9, 0.99} {
		recovered := FisherInv(FisherZ(rho))
		assert.InDelta(t, rho, recovered, 1e-9, "rho=%v", rho)
	}
}
