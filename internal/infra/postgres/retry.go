package postgres

import (
	"context"
	"errors"
	"net"
	"time"

	"examroom-service/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
)

const (
	sqlstateUniqueViolation     = "23505"
	sqlstateForeignKeyViolation = "23503"
	sqlstateSerialization       = "40001"
	sqlstateDeadlock            = "40P01"
)

// RetryPolicy bounds how often a transient failure is retried.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration
}

// DefaultRetryPolicy is used when the config leaves the store section empty.
var DefaultRetryPolicy = RetryPolicy{Retries: 3, Backoff: 100 * time.Millisecond}

// do runs op until it succeeds, fails permanently or the policy is exhausted.
// An exhausted transient failure is reported as an internal error. When the
// caller's context is done its error is returned as is.
func (p RetryPolicy) do(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Backoff
	exp.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(max(p.Retries, 0)))
	b = backoff.WithContext(b, ctx)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil || isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if isTransient(err) {
		return domain.Internal("entity store unavailable", domain.Transient(err))
	}
	return err
}

func isTransient(err error) bool {
	// context errors satisfy net.Error but belong to the caller
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlstateSerialization || pgErr.Code == sqlstateDeadlock
	}
	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) || pgconn.SafeToRetry(err)
}

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}
