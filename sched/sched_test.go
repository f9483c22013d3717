package sched_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/mewmew/lifter/sched"
)

var _ = Describe("Pool", func() {
	It("should return the result of a task", func() {
		p := sched.NewPool(2, 0)
		v, err := sched.Run(context.Background(), p, func(t *sched.Task) (int, error) {
			Expect(t.Checkpoint()).To(Succeed())
			return 42, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(42))
		p.Wait()
	})

	It("should propagate task errors", func() {
		p := sched.NewPool(1, 0)
		_, err := sched.Run(context.Background(), p, func(t *sched.Task) (struct{}, error) {
			return struct{}{}, errors.New("boom")
		})
		Expect(err).To(MatchError("boom"))
	})

	It("should let other tasks run when a time slice elapses", func() {
		p := sched.NewPool(1, time.Nanosecond)
		var flag atomic.Bool
		ctx := context.Background()
		spinner := sched.Go(ctx, p, func(t *sched.Task) (int, error) {
			for !flag.Load() {
				if err := t.Checkpoint(); err != nil {
					return 0, err
				}
			}
			return t.Yields(), nil
		})
		setter := sched.Go(ctx, p, func(t *sched.Task) (struct{}, error) {
			flag.Store(true)
			return struct{}{}, nil
		})
		_, err := setter.Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		yields, err := spinner.Wait(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(yields).To(BeNumerically(">", 0))
	})

	It("should not yield without a time slice", func() {
		p := sched.NewPool(1, 0)
		yields, err := sched.Run(context.Background(), p, func(t *sched.Task) (int, error) {
			for i := 0; i < 100; i++ {
				if err := t.Checkpoint(); err != nil {
					return 0, err
				}
			}
			Expect(t.Checkpoints()).To(Equal(100))
			return t.Yields(), nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(yields).To(BeZero())
	})

	It("should observe cancellation at checkpoints", func() {
		p := sched.NewPool(1, 0)
		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{})
		f := sched.Go(ctx, p, func(t *sched.Task) (struct{}, error) {
			close(started)
			for {
				if err := t.Checkpoint(); err != nil {
					return struct{}{}, err
				}
				time.Sleep(time.Millisecond)
			}
		})
		<-started
		cancel()
		Eventually(f.Done()).Should(BeClosed())
		_, err := f.Wait(context.Background())
		Expect(errors.Cause(err)).To(Equal(sched.ErrCanceled))
	})

	It("should release the worker slot while blocked on another task", func() {
		p := sched.NewPool(1, 0)
		ctx := context.Background()
		v, err := sched.Run(ctx, p, func(t *sched.Task) (int, error) {
			inner := sched.Go(ctx, p, func(*sched.Task) (int, error) {
				return 7, nil
			})
			var v int
			var err error
			if berr := t.Block(func() { v, err = inner.Wait(ctx) }); berr != nil {
				return 0, berr
			}
			return v, err
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(7))
	})

	It("should stop waiting when the context of the waiter is done", func() {
		p := sched.NewPool(1, 0)
		release := make(chan struct{})
		f := sched.Go(context.Background(), p, func(*sched.Task) (struct{}, error) {
			<-release
			return struct{}{}, nil
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.Wait(ctx)
		Expect(errors.Cause(err)).To(Equal(sched.ErrCanceled))
		close(release)
		p.Wait()
	})
})
