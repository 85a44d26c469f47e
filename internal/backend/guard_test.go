package backend_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/inference-router/internal/backend"
	"github.com/angeloszaimis/inference-router/internal/circuitbreaker"
)

var _ = Describe("Guard", func() {
	var (
		calls   int
		fail    bool
		breaker *circuitbreaker.CircuitBreaker
		guard   *backend.Guard
	)

	BeforeEach(func() {
		calls = 0
		fail = false
		breaker = circuitbreaker.NewCircuitBreaker(2, 100*time.Millisecond)
		guard = backend.NewGuard(backend.ClassifierFunc(func(ctx context.Context, text string) (backend.Result, error) {
			calls++
			if err := ctx.Err(); err != nil {
				return backend.Result{}, err
			}
			if fail {
				return backend.Result{}, errors.New("model crashed")
			}
			return backend.Result{Label: "POSITIVE", Confidence: 0.9, Version: "v"}, nil
		}), breaker)
	})

	It("should pass calls through while closed", func() {
		res, err := guard.Classify(context.Background(), "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Label).To(Equal("POSITIVE"))
		Expect(calls).To(Equal(1))
	})

	It("should open after repeated failures and fail fast", func() {
		fail = true
		for i := 0; i < 2; i++ {
			_, err := guard.Classify(context.Background(), "hi")
			Expect(err).To(MatchError("model crashed"))
		}
		Expect(breaker.State()).To(Equal(circuitbreaker.StateOpen))

		_, err := guard.Classify(context.Background(), "hi")
		Expect(err).To(MatchError(backend.ErrCircuitOpen))
		Expect(calls).To(Equal(2))
	})

	It("should close again after a successful probe", func() {
		fail = true
		for i := 0; i < 2; i++ {
			_, _ = guard.Classify(context.Background(), "hi")
		}

		fail = false
		time.Sleep(150 * time.Millisecond)

		_, err := guard.Classify(context.Background(), "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(breaker.State()).To(Equal(circuitbreaker.StateClosed))
	})

	It("should not count caller cancellations as failures", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		for i := 0; i < 5; i++ {
			_, err := guard.Classify(ctx, "hi")
			Expect(err).To(MatchError(context.Canceled))
		}
		Expect(breaker.State()).To(Equal(circuitbreaker.StateClosed))
	})

	It("should count invocation timeouts as failures", func() {
		ctx, cancel := context.WithTimeoutCause(context.Background(), time.Nanosecond, backend.ErrInvocationTimeout)
		defer cancel()
		time.Sleep(time.Millisecond)

		for i := 0; i < 2; i++ {
			_, _ = guard.Classify(ctx, "hi")
		}
		Expect(breaker.State()).To(Equal(circuitbreaker.StateOpen))
	})

	It("should not count the caller's own deadline as a failure", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		time.Sleep(time.Millisecond)

		for i := 0; i < 5; i++ {
			_, err := guard.Classify(ctx, "hi")
			Expect(err).To(MatchError(context.DeadlineExceeded))
		}
		Expect(breaker.State()).To(Equal(circuitbreaker.StateClosed))
	})

	It("should count an invocation timeout nested under a caller deadline", func() {
		parent, cancelParent := context.WithTimeout(context.Background(), time.Hour)
		defer cancelParent()
		ctx, cancel := context.WithTimeoutCause(parent, time.Nanosecond, backend.ErrInvocationTimeout)
		defer cancel()
		time.Sleep(time.Millisecond)

		for i := 0; i < 2; i++ {
			_, _ = guard.Classify(ctx, "hi")
		}
		Expect(breaker.State()).To(Equal(circuitbreaker.StateOpen))
	})
})
