package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codefionn/parsec/internal/gateway"
)

// callModel runs call, repeating it with exponential backoff when the
// gateway reports a timeout or an invalid response. Provider errors and
// cancellation end the call at once.
func (o *Orchestrator) callModel(ctx context.Context, op gateway.Op, call func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.opts.RetryBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.opts.ModelRetries)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := call(ctx)
		if err == nil {
			return nil
		}
		var gerr *gateway.Error
		if ctx.Err() != nil || !errors.As(err, &gerr) || !gerr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		o.log.Warn("%s call %d failed, retrying in %s: %v", op, attempt, wait, err)
	})
}
