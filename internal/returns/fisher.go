package returns

import "math"

// fisherEpsilon keeps the transform finite at |rho| = 1. Clamping
// introduces a small bias at the extremes; that is the accepted price
// for numerical stability.
const fisherEpsilon = 1e-6

// FisherZ is the variance-stabilizing transform
// z = 0.5 * ln((1+rho)/(1-rho)), with rho clamped to ±(1-epsilon).
func FisherZ(rho float64) float64 {
	if rho > 1-fisherEpsilon {
		rho = 1 - fisherEpsilon
	}
	if rho < -1+fisherEpsilon {
		rho = -1 + fisherEpsilon
	}
	return 0.5 * math.Log((1+rho)/(1-rho))
}

// FisherInv inverts FisherZ: rho = tanh(z).
func FisherInv(z float64) float64 {
	return math.Tanh(z)
}
