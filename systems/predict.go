package systems

import (
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Prediction holds a short-horizon population projection.
type Prediction struct {
	Curve      []float64 // projected population, one value per future tick
	Confidence float64   // 1 - normalized RMSE of the fitted model, in [0,1]
	Model      string    // "constant", "linear", or "logistic"
}

// flatVariance is the sample variance below which a history counts as
// constant and is projected flat with full confidence.
const flatVariance = 1e-9

// PredictPopulation fits a growth model to the history (one population
// sample per tick, oldest first) and extrapolates horizon ticks forward.
// Linear and logistic fits are tried; the one with the lower residual
// wins. Returns ok=false when fewer than two samples exist.
func PredictPopulation(history []float64, horizon int) (*Prediction, bool) {
	n := len(history)
	if n < 2 || horizon <= 0 {
		return nil, false
	}

	mean := stat.Mean(history, nil)
	if stat.Variance(history, nil) < flatVariance {
		curve := make([]float64, horizon)
		for i := range curve {
			curve[i] = history[0]
		}
		return &Prediction{Curve: curve, Confidence: 1, Model: "constant"}, true
	}

	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}

	alpha, beta := stat.LinearRegression(xs, history, nil, false)
	linSSE := 0.0
	for i, x := range xs {
		d := history[i] - (alpha + beta*x)
		linSSE += d * d
	}

	model := "linear"
	predict := func(x float64) float64 { return alpha + beta*x }
	sse := linSSE

	if lk, la, lr, lSSE, ok := fitLogistic(xs, history); ok && lSSE < linSSE {
		model = "logistic"
		predict = func(x float64) float64 { return logistic(x, lk, la, lr) }
		sse = lSSE
	}

	curve := make([]float64, horizon)
	for i := range curve {
		v := predict(float64(n + i))
		if v < 0 {
			v = 0
		}
		curve[i] = v
	}

	rmse := math.Sqrt(sse / float64(n))
	confidence := 1.0
	if mean > 0 {
		confidence = 1 - rmse/mean
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return &Prediction{Curve: curve, Confidence: confidence, Model: model}, true
}

// logistic evaluates K / (1 + A*exp(-r*x)).
func logistic(x, k, a, r float64) float64 {
	return k / (1 + a*math.Exp(-r*x))
}

// fitLogistic least-squares fits the logistic parameters with
// Nelder-Mead, seeded from the observed range. Returns ok=false when the
// optimizer fails or produces a degenerate carrying capacity.
func fitLogistic(xs, ys []float64) (k, a, r, sse float64, ok bool) {
	maxY := ys[0]
	for _, y := range ys {
		if y > maxY {
			maxY = y
		}
	}
	y0 := ys[0]
	if maxY <= 0 || y0 <= 0 {
		return 0, 0, 0, 0, false
	}

	k0 := maxY * 1.2
	a0 := (k0 - y0) / y0
	if a0 <= 0 {
		a0 = 0.1
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			pk, pa, pr := p[0], p[1], p[2]
			if pk <= 0 || pa <= 0 {
				return math.Inf(1)
			}
			var s float64
			for i, x := range xs {
				d := ys[i] - logistic(x, pk, pa, pr)
				s += d * d
			}
			return s
		},
	}

	result, err := optimize.Minimize(problem, []float64{k0, a0, 0.1}, nil, &optimize.NelderMead{})
	if err != nil || result == nil {
		return 0, 0, 0, 0, false
	}
	k, a, r = result.X[0], result.X[1], result.X[2]
	if k <= 0 || math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return 0, 0, 0, 0, false
	}
	return k, a, r, result.F, true
}
