package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/psds-microservice/book-service/internal/elasticsearch"
)

// ErrWaitTimeout is returned when the join gave up before every item completed.
var ErrWaitTimeout = errors.New("batch: wait timed out")

// Coordinator fans requests out through the async client and fans the bodies back in.
type Coordinator struct {
	client      elasticsearch.AsyncPerformer
	waitTimeout time.Duration
}

// NewCoordinator creates a coordinator. waitTimeout <= 0 waits until every item completed,
// relying on the client's own timeouts to fail stuck requests.
func NewCoordinator(client elasticsearch.AsyncPerformer, waitTimeout time.Duration) *Coordinator {
	return &Coordinator{client: client, waitTimeout: waitTimeout}
}

// Run submits every request, waits for all of them and returns one string per request in input
// order: the response body, or "" when the item failed. Item failures are not an error; only a
// wait cut short by the timeout or ctx is, and the returned slice is still filled for the items
// that finished.
func (c *Coordinator) Run(ctx context.Context, reqs []*elasticsearch.Request) ([]string, error) {
	collectors, err := c.Submit(ctx, reqs)
	return Drain(collectors), err
}

// Submit fans reqs out and blocks until every collector fired or the wait is abandoned.
func (c *Coordinator) Submit(ctx context.Context, reqs []*elasticsearch.Request) ([]*Collector, error) {
	latch := &sync.WaitGroup{}
	latch.Add(len(reqs))

	collectors := make([]*Collector, len(reqs))
	for i, req := range reqs {
		collectors[i] = NewCollector(latch)
		c.client.PerformRequestAsync(ctx, req, collectors[i])
	}

	log.Printf("batch: submitted %d requests, waiting", len(reqs))
	if err := c.wait(ctx, latch); err != nil {
		pending := 0
		for _, col := range collectors {
			if col.State() == Pending {
				pending++
			}
		}
		// err already reads "batch: ..."
		log.Printf("%v, %d of %d still pending", err, pending, len(reqs))
		return collectors, errors.Wrapf(err, "%d of %d pending", pending, len(reqs))
	}
	log.Printf("batch: done")
	return collectors, nil
}

func (c *Coordinator) wait(ctx context.Context, latch *sync.WaitGroup) error {
	released := make(chan struct{})
	go func() {
		latch.Wait()
		close(released)
	}()

	var timeout <-chan time.Time
	if c.waitTimeout > 0 {
		t := time.NewTimer(c.waitTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-released:
		return nil
	case <-timeout:
		return ErrWaitTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWaitTimeout, ctx.Err())
	}
}

// Drain converts collectors to bodies in order; failed and pending items become "".
func Drain(collectors []*Collector) []string {
	out := make([]string, len(collectors))
	for i, col := range collectors {
		out[i] = col.Body()
	}
	return out
}

// Summary counts results of a drained batch.
type Summary struct {
	Total  int
	Failed int
}

// Summarize counts empty slots as failed.
func Summarize(results []string) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r == "" {
			s.Failed++
		}
	}
	return s
}
