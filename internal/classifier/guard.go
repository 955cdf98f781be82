package classifier

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/internal/model"
	"github.com/sells-group/form-detector/internal/resilience"
)

// Guarded puts a breaker in front of a Classifier. While the breaker is
// open documents are not sent and Classify fails with an OracleError.
type Guarded struct {
	next    Classifier
	breaker *resilience.Breaker
}

// NewGuarded wraps next. Only service failures count toward opening the
// breaker; unusable answers do not.
func NewGuarded(next Classifier, threshold int, cooldown time.Duration) *Guarded {
	b := resilience.NewBreaker(resilience.BreakerConfig{
		Threshold: threshold,
		Cooldown:  cooldown,
		Counts:    IsServiceFailure,
		OnChange: func(from, to resilience.State) {
			zap.L().Warn("classifier: breaker state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return &Guarded{next: next, breaker: b}
}

// Classify implements Classifier.
func (g *Guarded) Classify(ctx context.Context, doc *fetcher.Document) (*model.ClassificationResult, error) {
	res, err := resilience.Call(ctx, g.breaker, func(ctx context.Context) (*model.ClassificationResult, error) {
		return g.next.Classify(ctx, doc)
	})
	if errors.Is(err, resilience.ErrOpen) {
		return nil, &OracleError{Msg: "classification service unavailable after repeated failures", Err: err}
	}
	return res, err
}

// IsServiceFailure reports whether err is a failed request to the
// classification service, as opposed to an unusable answer or a cancelled
// context.
func IsServiceFailure(err error) bool {
	var oe *OracleError
	if !errors.As(err, &oe) || !oe.Request {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
