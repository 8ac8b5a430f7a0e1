package inference

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	apperrors "comovecli/internal/errors"
	"comovecli/internal/returns"
	"comovecli/pkg/contracts/domain"
)

// regress fits OLS of the (Fisher-transformed) correlation on
// similarity plus the named controls, with HC1
// heteroskedasticity-robust standard errors. Only rows carrying every
// required control enter the fit.
func (e *Engine) regress(observations []domain.AlignedObservation) (*domain.RegressionResult, error) {
	var usable []domain.AlignedObservation
	for _, o := range observations {
		if o.HasControls {
			usable = append(usable, o)
		}
	}

	controlNames := make([]string, len(e.requiredControls))
	copy(controlNames, e.requiredControls)
	sort.Strings(controlNames)

	n := len(usable)
	k := 2 + len(controlNames) // intercept + similarity + controls
	if n <= k+1 {
		return nil, apperrors.NewInsufficientDataError(
			fmt.Sprintf("%d observations for %d parameters", n, k), nil)
	}

	x := mat.NewDense(n, k, nil)
	y := mat.NewVecDense(n, nil)
	for i, o := range usable {
		x.Set(i, 0, 1)
		x.Set(i, 1, o.Similarity)
		for c, name := range controlNames {
			x.Set(i, 2+c, o.Controls[name])
		}
		value := o.Correlation
		if !e.correlationTransformed {
			value = returns.FisherZ(value)
		}
		y.SetVec(i, value)
	}

	var qr mat.QR
	qr.Factorize(x)
	beta := mat.NewDense(k, 1, nil)
	if err := qr.SolveTo(beta, false, y); err != nil {
		return nil, apperrors.NewInsufficientDataError("design matrix is rank deficient", err)
	}

	// Residuals and fit quality.
	fitted := mat.NewVecDense(n, nil)
	fitted.MulVec(x, beta.ColView(0))
	residuals := make([]float64, n)
	meanY := 0.0
	for i := 0; i < n; i++ {
		residuals[i] = y.AtVec(i) - fitted.AtVec(i)
		meanY += y.AtVec(i)
	}
	meanY /= float64(n)

	ssr, sst := 0.0, 0.0
	for i := 0; i < n; i++ {
		ssr += residuals[i] * residuals[i]
		d := y.AtVec(i) - meanY
		sst += d * d
	}
	rSquared := 0.0
	if sst > 0 {
		rSquared = 1 - ssr/sst
	}

	// HC1 sandwich: (X'X)^-1 X' diag(e^2) X (X'X)^-1 * n/(n-k).
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return nil, apperrors.NewInsufficientDataError("X'X is singular", err)
	}
	meat := mat.NewDense(k, k, nil)
	for i := 0; i < n; i++ {
		e2 := residuals[i] * residuals[i]
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				meat.Set(a, b, meat.At(a, b)+e2*x.At(i, a)*x.At(i, b))
			}
		}
	}
	var bread mat.Dense
	bread.Mul(&xtxInv, meat)
	var sandwich mat.Dense
	sandwich.Mul(&bread, &xtxInv)
	adjust := float64(n) / float64(n-k)

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + e.confidenceLevel/2)
	names := append([]string{"intercept", "similarity"}, controlNames...)
	coefficients := make([]domain.Coefficient, k)
	for i := 0; i < k; i++ {
		estimate := beta.At(i, 0)
		stderr := math.Sqrt(adjust * sandwich.At(i, i))
		tStat := 0.0
		if stderr > 0 {
			tStat = estimate / stderr
		}
		coefficients[i] = domain.Coefficient{
			Name:     names[i],
			Estimate: estimate,
			StdErr:   stderr,
			TStat:    tStat,
			CILower:  estimate - z*stderr,
			CIUpper:  estimate + z*stderr,
		}
	}

	return &domain.RegressionResult{
		Coefficients: coefficients,
		RSquared:     rSquared,
		Observations: n,
	}, nil
}
