package experiments

import (
	"math"

	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

const (
	significanceThreshold = 0.05
	zAlpha                = 1.96
	zBeta                 = 0.84
)

// Winner labels returned by Evaluate.
const (
	WinnerA    = "A"
	WinnerB    = "B"
	WinnerNone = "none"
)

// Result is the outcome of a two-proportion z-test between variants A and B.
type Result struct {
	RateA           float64 `json:"rateA"`
	RateB           float64 `json:"rateB"`
	ZScore          float64 `json:"zScore"`
	PValue          float64 `json:"pValue"`
	IsSignificant   bool    `json:"isSignificant"`
	Winner          string  `json:"winner"`
	ConfidenceLevel float64 `json:"confidenceLevel"`
}

// Evaluate compares conversion rates of A and B. Empty samples or a zero
// standard error give an inconclusive result instead of an error.
func Evaluate(convA, totalA, convB, totalB int) (Result, error) {
	if convA < 0 || totalA < 0 || convB < 0 || totalB < 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "counts must not be negative")
	}
	if convA > totalA || convB > totalB {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "conversions cannot exceed totals")
	}

	res := Result{PValue: 1, Winner: WinnerNone}
	if totalA == 0 || totalB == 0 {
		return res, nil
	}
	res.RateA = float64(convA) / float64(totalA)
	res.RateB = float64(convB) / float64(totalB)

	pooled := float64(convA+convB) / float64(totalA+totalB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(totalA) + 1/float64(totalB)))
	if se == 0 || math.IsNaN(se) {
		return res, nil
	}

	res.ZScore = (res.RateB - res.RateA) / se
	res.PValue = twoSidedPValue(res.ZScore)
	res.IsSignificant = res.PValue < significanceThreshold
	res.ConfidenceLevel = (1 - res.PValue) * 100
	if res.IsSignificant {
		if res.RateB > res.RateA {
			res.Winner = WinnerB
		} else {
			res.Winner = WinnerA
		}
	}
	return res, nil
}

// twoSidedPValue is 2·(1 − Φ(|z|)), written with erfc to keep precision in the tail.
func twoSidedPValue(z float64) float64 {
	return math.Erfc(math.Abs(z) / math.Sqrt2)
}

// MinimumSampleSize returns the per-variant sample needed to detect a relative
// lift of mde over baseline at 95% confidence and 80% power.
func MinimumSampleSize(baseline, mde float64) (int, error) {
	if baseline <= 0 || baseline >= 1 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "baseline rate must be between 0 and 1")
	}
	if mde <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "minimum detectable effect must be positive")
	}
	p1 := baseline
	p2 := baseline * (1 + mde)
	if p2 >= 1 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "baseline lifted by effect must stay below 1")
	}
	mean := (p1 + p2) / 2
	z := zAlpha + zBeta
	n := z * z * 2 * mean * (1 - mean) / ((p2 - p1) * (p2 - p1))
	return int(math.Ceil(n)), nil
}
