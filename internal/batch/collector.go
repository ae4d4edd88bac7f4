// Package batch submits a set of requests in parallel and joins their results in input order.
package batch

import (
	"log"
	"sync"

	"github.com/psds-microservice/book-service/internal/elasticsearch"
)

// State of a single batch item.
type State int

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Collector holds the outcome of one asynchronous request and counts down the shared latch
// when it arrives. Only the first callback counts; later ones are dropped.
type Collector struct {
	latch *sync.WaitGroup
	once  sync.Once
	done  chan struct{}

	// written once before done is closed
	state State
	resp  *elasticsearch.Response
	err   error
}

// NewCollector binds a collector to latch. The caller has already added one to latch for it.
func NewCollector(latch *sync.WaitGroup) *Collector {
	return &Collector{
		latch: latch,
		done:  make(chan struct{}),
	}
}

// OnSuccess stores resp and counts down.
func (c *Collector) OnSuccess(resp *elasticsearch.Response) {
	c.fire(func() {
		c.state = Succeeded
		c.resp = resp
	})
}

// OnFailure logs err, stores no response and counts down.
func (c *Collector) OnFailure(err error) {
	c.fire(func() {
		log.Printf("batch: request failed: %v", err)
		c.state = Failed
		c.err = err
	})
}

func (c *Collector) fire(store func()) {
	c.once.Do(func() {
		store()
		close(c.done)
		if c.latch != nil {
			c.latch.Done()
		}
	})
}

// Done is closed once the collector fired.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// State reports Pending until the collector fired.
func (c *Collector) State() State {
	select {
	case <-c.done:
		return c.state
	default:
		return Pending
	}
}

// Response returns the captured response, nil on failure or while pending.
func (c *Collector) Response() *elasticsearch.Response {
	select {
	case <-c.done:
		return c.resp
	default:
		return nil
	}
}

// Err returns the failure cause, nil on success or while pending.
func (c *Collector) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Body returns the captured response body, "" when there is none.
func (c *Collector) Body() string {
	return c.Response().String()
}

var _ elasticsearch.ResponseListener = (*Collector)(nil)
