package rewriter

import (
	"context"
	"math"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/feature"
)

// Aggregate returns the weighted sum of the features that produce a value
// for c. Features without a value are left out of the sum.
func (e *Evaluator) Aggregate(ctx context.Context, features []*feature.Definition, c *Candidate) float64 {
	weight := 0.0
	for _, f := range features {
		value, ok := e.Evaluate(ctx, f, c)
		if !ok {
			continue
		}
		lambda := e.Lambda(f)
		product := lambda * value
		if math.IsNaN(product) || math.IsInf(product, 0) {
			e.logger.Warn("non-finite feature contribution dropped",
				"terms", c.String(), "feature", f.Name, "lambda", lambda, "value", value)
			continue
		}
		weight += product
		if e.verbose {
			e.logger.Info("feature contribution",
				"terms", c.String(),
				"feature", f.Name,
				"lambda", lambda,
				"value", value,
				"product", product,
			)
		}
	}
	return weight
}
