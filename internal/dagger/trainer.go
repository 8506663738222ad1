package dagger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

// ErrNoPolicy is returned by Test for an iteration without a trained policy
var ErrNoPolicy = errors.New("no policy trained for iteration")

// Trainer aggregates trajectories into a dataset, fits policies on it and serves
// predictions. Policy slot i-1 holds the policy trained on data aggregated
// through iteration i. A Trainer is not safe for concurrent use.
type Trainer struct {
	root    string
	learner string
	alpha   float64
	logger  *slog.Logger

	dataset    *Dataset
	aggregated int
	policies   []*Policy
}

// WithLogger sets the trainer logger
func WithLogger(logger *slog.Logger) func(t *Trainer) {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// WithAlpha overrides the ridge penalty of the tikhonov learner
func WithAlpha(alpha float64) func(t *Trainer) {
	return func(t *Trainer) {
		t.alpha = alpha
	}
}

// NewTrainer creates a trainer for the data tree under root. The last
// persisted aggregate, if any, becomes the initial dataset.
func NewTrainer(root, learner string, options ...func(t *Trainer)) (*Trainer, error) {
	if !ValidLearner(learner) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLearner, learner)
	}

	t := Trainer{
		root:    root,
		learner: learner,
		alpha:   DefaultAlpha,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&t)
	}

	if learner == OrdinaryLeastSquares {
		t.alpha = 0
	}

	d, err := readAggregate(root)
	if err != nil {
		return nil, fmt.Errorf("loading aggregate: %w", err)
	}
	t.dataset = d

	return &t, nil
}

// Aggregate rebuilds the dataset from every trajectory of iterations 1 through
// iteration and rewrites the aggregate files. The in-memory dataset is replaced
// only when the whole rebuild succeeds, so calling it again with unchanged
// trajectories yields the same dataset.
func (t *Trainer) Aggregate(iteration int) error {
	if iteration < 1 {
		return fmt.Errorf("invalid iteration %d", iteration)
	}

	var next Dataset
	var trajectories int

	for it := 1; it <= iteration; it++ {
		dirs, err := trajectory.Trajectories(t.root, it)
		if err != nil {
			return fmt.Errorf("scanning iteration %d: %w", it, err)
		}

		for _, dir := range dirs {
			features, targets, err := loadTrajectory(dir)
			if err != nil {
				if !errors.Is(err, ErrDataIntegrity) {
					err = fmt.Errorf("%w: %w", ErrDataIntegrity, err)
				}
				return fmt.Errorf("aggregating iteration %d: %w", it, err)
			}

			if err = next.Append(features, targets); err != nil {
				return fmt.Errorf("aggregating %s: %w", dir, err)
			}
			trajectories++
		}
	}

	if err := os.MkdirAll(t.root, 0o755); err != nil {
		return fmt.Errorf("creating data root: %w", err)
	}
	if err := writeAggregate(t.root, &next); err != nil {
		return err
	}

	t.dataset = &next
	t.aggregated = iteration

	t.logger.Info("aggregated dataset",
		slog.Int("iteration", iteration),
		slog.Int("trajectories", trajectories),
		slog.String("rows", humanize.Comma(int64(next.Len()))),
		slog.Int("features", next.Dim()),
	)

	return nil
}

// Dataset returns the current aggregate
func (t *Trainer) Dataset() *Dataset {
	return t.dataset
}

// Iteration returns the iteration the dataset was last aggregated through
func (t *Trainer) Iteration() int {
	return t.aggregated
}

// Train fits a policy on the current aggregate and stores it in the slot of the
// aggregated iteration. An aggregate loaded from disk without calling Aggregate
// trains the policy of the next free slot.
func (t *Trainer) Train() (*Policy, error) {
	weights, intercept, err := fit(t.dataset, t.alpha)
	if err != nil {
		return nil, fmt.Errorf("training %s: %w", t.learner, err)
	}

	iteration := t.aggregated
	if iteration < 1 {
		iteration = len(t.policies) + 1
	}

	p := Policy{
		Iteration: iteration,
		Learner:   t.learner,
		Weights:   weights,
		Intercept: intercept,
	}
	t.put(&p)

	t.logger.Info("trained policy",
		slog.Int("iteration", iteration),
		slog.String("learner", t.learner),
		slog.Int("rows", t.dataset.Len()),
		slog.Float64("intercept", intercept),
	)

	return &p, nil
}

// Test predicts the X command for x with the policy trained through iteration
func (t *Trainer) Test(x []float64, iteration int) (float64, error) {
	p, ok := t.Policy(iteration)
	if !ok {
		return 0, fmt.Errorf("%w %d", ErrNoPolicy, iteration)
	}
	return p.Predict(x)
}

// Policy returns the policy trained through iteration
func (t *Trainer) Policy(iteration int) (*Policy, bool) {
	if iteration < 1 || iteration > len(t.policies) || t.policies[iteration-1] == nil {
		return nil, false
	}
	return t.policies[iteration-1], true
}

// Policies returns the trained policies in iteration order
func (t *Trainer) Policies() []*Policy {
	var out []*Policy
	for _, p := range t.policies {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Load restores previously trained policies
func (t *Trainer) Load(policies ...*Policy) error {
	for _, p := range policies {
		if p == nil || p.Iteration < 1 {
			return errors.New("policy without iteration")
		}
		t.put(p)
	}
	return nil
}

func (t *Trainer) put(p *Policy) {
	for len(t.policies) < p.Iteration {
		t.policies = append(t.policies, nil)
	}
	t.policies[p.Iteration-1] = p
}
