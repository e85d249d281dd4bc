// Package classifier fits and evaluates a multinomial linear classifier over face embeddings.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// ErrInvalidTrainingSet is returned when there is nothing to learn from.
var ErrInvalidTrainingSet = errors.New("invalid training set")

// Model is a softmax classifier: one weight row and bias per class.
type Model struct {
	Generation int64       `json:"generation"`
	Classes    int         `json:"classes"`
	Dim        int         `json:"dim"`
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
}

// FitOptions controls the optimizer.
type FitOptions struct {
	// MaxIterations bounds the L-BFGS major iterations. Zero leaves it to the optimizer.
	MaxIterations int
	// L2 is the weight decay on the (non-bias) weights.
	L2 float64
}

// DefaultFitOptions mirrors a linear SVC with C=1 closely enough for a handful of crops.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		MaxIterations: 200,
		L2:            1e-3,
	}
}

// Fit trains a fresh model on samples with labels in [0, classes) by minimizing the
// regularized cross-entropy with L-BFGS.
// Classes are weighted inversely to their frequency so a dominant person does not swamp the rest.
func Fit(samples [][]float64, labels []int, classes int, opts FitOptions) (*Model, error) {
	if len(samples) == 0 || classes < 1 {
		return nil, fmt.Errorf("%w: no examples", ErrInvalidTrainingSet)
	}
	if len(samples) != len(labels) {
		return nil, fmt.Errorf("%w: %d samples but %d labels", ErrInvalidTrainingSet, len(samples), len(labels))
	}
	dim := len(samples[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidTrainingSet)
	}

	counts := make([]int, classes)
	for i, s := range samples {
		if len(s) != dim {
			return nil, fmt.Errorf("%w: sample %d has dimension %d, want %d", ErrInvalidTrainingSet, i, len(s), dim)
		}
		if labels[i] < 0 || labels[i] >= classes {
			return nil, fmt.Errorf("%w: label %d out of range", ErrInvalidTrainingSet, labels[i])
		}
		counts[labels[i]]++
	}

	// A single class needs no fitting: softmax over one logit is always 1.0
	if classes == 1 {
		return view(make([]float64, dim+1), 1, dim), nil
	}

	classWeight := make([]float64, classes)
	for c, n := range counts {
		if n > 0 {
			classWeight[c] = float64(len(samples)) / float64(classes*n)
		}
	}

	obj := &objective{
		samples:     samples,
		labels:      labels,
		classes:     classes,
		dim:         dim,
		classWeight: classWeight,
		norm:        1.0 / float64(len(samples)),
		l2:          opts.L2,
		probs:       make([]float64, classes),
	}
	problem := optimize.Problem{Func: obj.loss, Grad: obj.grad}
	settings := &optimize.Settings{
		GradientThreshold: 1e-6,
		MajorIterations:   opts.MaxIterations,
	}

	result, err := optimize.Minimize(problem, make([]float64, classes*(dim+1)), settings, &optimize.LBFGS{})
	// A stalled line search near the optimum still leaves a usable model
	if err != nil && (result == nil || floats.HasNaN(result.X)) {
		return nil, fmt.Errorf("classifier optimization failed: %w", err)
	}
	if result == nil || math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, errors.New("classifier optimization diverged")
	}

	theta := make([]float64, len(result.X))
	copy(theta, result.X)
	return view(theta, classes, dim), nil
}

// view lays a flat parameter vector out as a model: classes*dim weights, then classes biases.
func view(theta []float64, classes, dim int) *Model {
	m := &Model{
		Classes: classes,
		Dim:     dim,
		Weights: make([][]float64, classes),
		Bias:    theta[classes*dim : classes*dim+classes],
	}
	for c := range m.Weights {
		m.Weights[c] = theta[c*dim : (c+1)*dim]
	}
	return m
}

// objective is the class-weighted, L2-regularized softmax cross-entropy.
type objective struct {
	samples     [][]float64
	labels      []int
	classes     int
	dim         int
	classWeight []float64
	norm        float64
	l2          float64
	probs       []float64
}

func (o *objective) loss(theta []float64) float64 {
	m := view(theta, o.classes, o.dim)
	var loss float64
	for i, x := range o.samples {
		m.proba(x, o.probs)
		p := math.Max(o.probs[o.labels[i]], 1e-300)
		loss -= o.classWeight[o.labels[i]] * o.norm * math.Log(p)
	}
	for _, row := range m.Weights {
		loss += 0.5 * o.l2 * floats.Dot(row, row)
	}
	return loss
}

func (o *objective) grad(grad, theta []float64) {
	m := view(theta, o.classes, o.dim)
	g := view(grad, o.classes, o.dim)
	floats.Scale(0, grad)

	for i, x := range o.samples {
		m.proba(x, o.probs)
		w := o.classWeight[o.labels[i]] * o.norm
		for c := 0; c < o.classes; c++ {
			residual := o.probs[c]
			if c == o.labels[i] {
				residual -= 1
			}
			floats.AddScaled(g.Weights[c], w*residual, x)
			g.Bias[c] += w * residual
		}
	}
	for c := range g.Weights {
		floats.AddScaled(g.Weights[c], o.l2, m.Weights[c])
	}
}

// PredictProba returns one probability per class, summing to 1.
func (m *Model) PredictProba(x []float64) ([]float64, error) {
	if len(x) != m.Dim {
		return nil, fmt.Errorf("embedding has dimension %d, model expects %d", len(x), m.Dim)
	}
	out := make([]float64, m.Classes)
	m.proba(x, out)
	return out, nil
}

// Predict returns the arg-max class and its probability.
func (m *Model) Predict(x []float64) (int, float64, error) {
	p, err := m.PredictProba(x)
	if err != nil {
		return 0, 0, err
	}
	best := floats.MaxIdx(p)
	return best, p[best], nil
}

func (m *Model) proba(x []float64, out []float64) {
	for c := 0; c < m.Classes; c++ {
		out[c] = floats.Dot(m.Weights[c], x) + m.Bias[c]
	}
	peak := floats.Max(out)
	var sum float64
	for c := range out {
		out[c] = math.Exp(out[c] - peak)
		sum += out[c]
	}
	floats.Scale(1/sum, out)
}

// LabelEncoder maps person names to dense class indices in sorted order.
type LabelEncoder struct {
	Generation int64    `json:"generation"`
	Classes    []string `json:"classes"`
}

// FitTransform learns the sorted set of names and returns the index of each input name.
func FitTransform(names []string) (*LabelEncoder, []int) {
	seen := make(map[string]bool, len(names))
	var classes []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			classes = append(classes, n)
		}
	}
	sort.Strings(classes)

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	labels := make([]int, len(names))
	for i, n := range names {
		labels[i] = index[n]
	}
	return &LabelEncoder{Classes: classes}, labels
}

// Name returns the person name for a class index.
func (e *LabelEncoder) Name(class int) (string, error) {
	if class < 0 || class >= len(e.Classes) {
		return "", fmt.Errorf("class %d out of range (%d classes)", class, len(e.Classes))
	}
	return e.Classes[class], nil
}
