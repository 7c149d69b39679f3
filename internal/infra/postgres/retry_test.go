package postgres

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"examroom-service/internal/domain"
	"github.com/jackc/pgconn"
)

var fastRetry = RetryPolicy{Retries: 2, Backoff: time.Millisecond}

func TestRetryGivesUpOnPersistentTransientFailure(t *testing.T) {
	calls := 0
	err := fastRetry.do(context.Background(), func() error {
		calls++
		return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})
	if calls != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", calls)
	}
	if domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("exhausted retries should be internal, got %s (%v)", domain.KindOf(err), err)
	}
	if !errors.Is(err, domain.ErrTransientStore) {
		t.Fatalf("the transient cause should stay reachable, got %v", err)
	}
}

func TestRetryRecoversFromSerializationFailure(t *testing.T) {
	calls := 0
	err := fastRetry.do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: sqlstateSerialization}
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on the second attempt, got err=%v calls=%d", err, calls)
	}
}

func TestRetryPassesPermanentErrorsThrough(t *testing.T) {
	cases := []error{
		domain.ErrRoomNotFound,
		&pgconn.PgError{Code: sqlstateUniqueViolation},
	}
	for _, want := range cases {
		calls := 0
		err := fastRetry.do(context.Background(), func() error {
			calls++
			return want
		})
		if calls != 1 {
			t.Fatalf("%v: permanent errors must not be retried, got %d calls", want, calls)
		}
		if !errors.Is(err, want) {
			t.Fatalf("expected %v, got %v", want, err)
		}
	}
}

func TestRetryReturnsCallerDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	calls := 0
	err := fastRetry.do(ctx, func() error {
		calls++
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the caller deadline, got %v", err)
	}
	if errors.Is(err, domain.ErrTransientStore) || calls != 1 {
		t.Fatalf("a caller deadline is not a store failure: err=%v calls=%d", err, calls)
	}
}
