package dagger

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	Tikhonov             = "tikhonov"
	OrdinaryLeastSquares = "ordinary_least_squares"

	// DefaultAlpha is the ridge penalty used by the tikhonov learner
	DefaultAlpha = 0.5

	// rankCondition drops singular values this small relative to the largest
	rankCondition = 1e-12
)

var (
	ErrUnknownLearner = errors.New("unknown learner")
	ErrEmptyDataset   = errors.New("empty dataset")
	ErrDimension      = errors.New("feature dimension mismatch")
)

// Policy is a fitted linear model mapping a feature vector to the X command
type Policy struct {
	Iteration int       `json:"iteration"`
	Learner   string    `json:"learner"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// Predict applies the policy to x
func (p *Policy) Predict(x []float64) (float64, error) {
	if len(x) != len(p.Weights) {
		return 0, fmt.Errorf("%w: policy expects %d features, got %d", ErrDimension, len(p.Weights), len(x))
	}
	return floats.Dot(p.Weights, x) + p.Intercept, nil
}

// ValidLearner reports whether name is a supported learner
func ValidLearner(name string) bool {
	return name == Tikhonov || name == OrdinaryLeastSquares
}

// fit solves min |y - Xw - b|^2 + alpha*|w|^2 with an unpenalised intercept b.
// Features are centred so the intercept drops out of the normal equations
// (X'X + alpha*I) w = X'y, which are solved through an SVD to tolerate rank
// deficient data when alpha is zero.
func fit(d *Dataset, alpha float64) (weights []float64, intercept float64, err error) {
	rows, cols := d.Len(), d.Dim()
	if rows == 0 || cols == 0 {
		return nil, 0, ErrEmptyDataset
	}

	x := mat.NewDense(rows, cols, nil)
	for i, row := range d.Features {
		x.SetRow(i, row)
	}

	means := make([]float64, cols)
	for j := range means {
		means[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	yMean := stat.Mean(d.Targets, nil)

	y := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			x.Set(i, j, x.At(i, j)-means[j])
		}
		y.SetVec(i, d.Targets[i]-yMean)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, x.T())
	for j := 0; j < cols; j++ {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(x.T(), y)

	weights = make([]float64, cols)

	var svd mat.SVD
	if !svd.Factorize(&gram, mat.SVDFull) {
		return nil, 0, errors.New("factorizing normal equations failed")
	}

	if rank := svd.Rank(rankCondition); rank > 0 {
		w := mat.NewVecDense(cols, weights)
		svd.SolveVecTo(w, &rhs, rank)
	}

	intercept = yMean - floats.Dot(weights, means)
	return weights, intercept, nil
}
