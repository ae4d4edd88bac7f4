package kafka

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/book-service/internal/elasticsearch"
	"github.com/psds-microservice/book-service/internal/service"
	"github.com/segmentio/kafka-go"
)

// BookIndexer is the part of the book service the worker writes through.
// Info doubles as a health probe when a whole batch came back empty.
type BookIndexer interface {
	Info(ctx context.Context) (string, error)
	ParallelAddOrUpdate(ctx context.Context, books []service.Book) ([]string, error)
	Delete(ctx context.Context, id string) (string, error)
}

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunConsumer запускает Kafka consumer: читает события книг и пишет их в ES пачками через ParallelAddOrUpdate.
func RunConsumer(ctx context.Context, brokers []string, groupID string, topics []string, svc BookIndexer, batchSize int, flushInterval time.Duration) {
	if len(brokers) == 0 || len(topics) == 0 {
		log.Println("kafka: brokers or topics empty, consumer not started")
		return
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	log.Printf("kafka consumer: started, group=%s, topics=%v, batch=%d, flush=%s", groupID, topics, batchSize, flushInterval)
	NewConsumer(r, svc, batchSize, flushInterval).Run(ctx)
}

// Consumer buffers upserts and flushes them as one parallel batch. Offsets are committed only
// after the flush that covered them. While the cluster is unreachable the consumer stops reading,
// keeps its buffer and retries with backoff.
type Consumer struct {
	reader        messageReader
	svc           BookIndexer
	batchSize     int
	flushInterval time.Duration
	minBackoff    time.Duration
	maxBackoff    time.Duration

	pending []kafka.Message
	books   []service.Book
	byID    map[string]int
}

func NewConsumer(r messageReader, svc BookIndexer, batchSize int, flushInterval time.Duration) *Consumer {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Consumer{
		reader:        r,
		svc:           svc,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		minBackoff:    defaultMinBackoff,
		maxBackoff:    defaultMaxBackoff,
		byID:          make(map[string]int),
	}
}

// Run blocks until ctx is cancelled. Buffered but unflushed messages stay uncommitted and are
// redelivered to the next consumer.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	msgs := make(chan kafka.Message)
	go c.fetch(ctx, msgs)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("kafka consumer: stopping, %d buffered messages left uncommitted", len(c.pending))
			return
		case msg := <-msgs:
			c.handle(ctx, msg)
		case <-ticker.C:
			c.flush(ctx)
		}
	}
}

func (c *Consumer) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("kafka read: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ev, err := ParseBookEvent(msg)
	if err != nil {
		log.Printf("kafka: [%s] %v, skipping", msg.Topic, err)
		c.pending = append(c.pending, msg)
		return
	}

	switch ev.Event {
	case EventBookUpserted:
		c.pending = append(c.pending, msg)
		if i, ok := c.byID[ev.Book.ID]; ok {
			// последняя версия книги побеждает
			c.books[i] = *ev.Book
		} else {
			c.byID[ev.Book.ID] = len(c.books)
			c.books = append(c.books, *ev.Book)
		}
		if len(c.books) >= c.batchSize {
			c.flush(ctx)
		}
	case EventBookDeleted:
		// delete must not overtake an upsert of the same book still in the buffer
		if !c.flush(ctx) {
			return
		}
		id := ev.DocID()
		ok := c.retry(ctx, "delete book "+id, func() error {
			_, err := c.svc.Delete(ctx, id)
			switch {
			case err == nil:
				log.Printf("kafka: [%s] deleted book %s", msg.Topic, id)
			case isNotFound(err):
				log.Printf("kafka: [%s] book %s already gone", msg.Topic, id)
			case isRejected(err):
				log.Printf("kafka: [%s] delete book %s rejected: %v", msg.Topic, id, err)
			default:
				return err
			}
			return nil
		})
		if !ok {
			return
		}
		c.pending = append(c.pending, msg)
		c.commit(ctx)
	}
}

// flush writes the buffered books and commits. It reports false only when ctx ended while the
// cluster was unreachable; the buffer is then left in place and nothing is committed.
func (c *Consumer) flush(ctx context.Context) bool {
	if len(c.books) > 0 {
		ok := c.retry(ctx, "batch write", func() error {
			return c.writeBatch(ctx)
		})
		if !ok {
			return false
		}
		c.books = c.books[:0]
		c.byID = make(map[string]int)
	}
	c.commit(ctx)
	return true
}

// writeBatch indexes the buffer once. A batch with no successful item is an outage unless the
// cluster answers the health probe, in which case the books were rejected and are dropped.
func (c *Consumer) writeBatch(ctx context.Context) error {
	results, err := c.svc.ParallelAddOrUpdate(ctx, c.books)
	if err != nil {
		log.Printf("kafka: batch of %d books: %v", len(c.books), err)
	}
	indexed := 0
	for i := range c.books {
		if i < len(results) && results[i] != "" {
			indexed++
		}
	}
	if indexed == 0 {
		if _, probeErr := c.svc.Info(ctx); probeErr != nil {
			return probeErr
		}
	}
	for i, b := range c.books {
		if i >= len(results) || results[i] == "" {
			log.Printf("kafka: book %s not indexed", b.ID)
		}
	}
	log.Printf("kafka: indexed %d of %d books", indexed, len(c.books))
	return nil
}

// retry runs op until it succeeds, backing off between attempts. It returns false when ctx
// ended first.
func (c *Consumer) retry(ctx context.Context, what string, op func() error) bool {
	backoff := c.minBackoff
	for {
		err := op()
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Printf("kafka: %s: %v, retrying in %s", what, err, backoff)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Consumer) commit(ctx context.Context) {
	if len(c.pending) == 0 {
		return
	}
	if err := c.reader.CommitMessages(ctx, c.pending...); err != nil {
		log.Printf("kafka: commit %d messages: %v", len(c.pending), err)
		return
	}
	c.pending = c.pending[:0]
}

func isNotFound(err error) bool {
	var respErr *elasticsearch.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// isRejected reports a 4xx answer: the cluster is up and redelivery would fail the same way.
func isRejected(err error) bool {
	var respErr *elasticsearch.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode >= 400 && respErr.StatusCode < 500
}
