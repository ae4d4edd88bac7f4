package kafka

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psds-microservice/book-service/internal/elasticsearch"
	"github.com/psds-microservice/book-service/internal/service"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for i, m := range msgs {
		m.Offset = int64(i)
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type call struct {
	op    string
	books []service.Book
	id    string
}

var errUnreachable = &elasticsearch.TransportError{Host: "http://es:9200", Err: errors.New("connection refused")}

type fakeIndexer struct {
	mu        sync.Mutex
	calls     []call
	deleteErr error
	// down makes every call fail the way an unreachable cluster does
	down atomic.Bool
	// rejectAll fails every batch item while the cluster stays healthy
	rejectAll bool
}

func (f *fakeIndexer) Info(context.Context) (string, error) {
	if f.down.Load() {
		return "", errUnreachable
	}
	return `{"cluster_name":"test"}`, nil
}

func (f *fakeIndexer) ParallelAddOrUpdate(_ context.Context, books []service.Book) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(books))
	if f.down.Load() {
		f.calls = append(f.calls, call{op: "batch_failed"})
		return out, nil
	}
	f.calls = append(f.calls, call{op: "batch", books: append([]service.Book(nil), books...)})
	if f.rejectAll {
		return out, nil
	}
	for i := range books {
		out[i] = `{"result":"created"}`
	}
	return out, nil
}

func (f *fakeIndexer) Delete(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down.Load() {
		f.calls = append(f.calls, call{op: "delete_failed", id: id})
		return "", errUnreachable
	}
	f.calls = append(f.calls, call{op: "delete", id: id})
	return `{"result":"deleted"}`, f.deleteErr
}

func (f *fakeIndexer) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeIndexer) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func upsert(id, name string) kafka.Message {
	return kafka.Message{Topic: "books.events", Value: []byte(`{"event":"book.upserted","book":{"id":"` + id + `","name":"` + name + `"}}`)}
}

func deleted(id string) kafka.Message {
	return kafka.Message{Topic: "books.events", Value: []byte(`{"event":"book.deleted","id":"` + id + `"}`)}
}

func newTestConsumer(r messageReader, svc BookIndexer, batchSize int, flushInterval time.Duration) *Consumer {
	c := NewConsumer(r, svc, batchSize, flushInterval)
	c.minBackoff = time.Millisecond
	c.maxBackoff = 5 * time.Millisecond
	return c
}

func runConsumer(t *testing.T, c *Consumer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestConsumer_FlushesOnBatchSize(t *testing.T) {
	reader := newFakeReader(upsert("1", "a"), upsert("2", "b"), upsert("3", "c"), upsert("4", "d"))
	idx := &fakeIndexer{}
	stop := runConsumer(t, NewConsumer(reader, idx, 2, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return reader.committedCount() == 4 }, time.Second, 5*time.Millisecond)
	calls := idx.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, []service.Book{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}, calls[0].books)
	assert.Equal(t, []service.Book{{ID: "3", Name: "c"}, {ID: "4", Name: "d"}}, calls[1].books)
}

func TestConsumer_FlushesOnInterval(t *testing.T) {
	reader := newFakeReader(upsert("1", "a"))
	idx := &fakeIndexer{}
	stop := runConsumer(t, NewConsumer(reader, idx, 100, 20*time.Millisecond))
	defer stop()

	require.Eventually(t, func() bool { return reader.committedCount() == 1 }, time.Second, 5*time.Millisecond)
	calls := idx.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "batch", calls[0].op)
}

func TestConsumer_LatestVersionWinsWithinBatch(t *testing.T) {
	reader := newFakeReader(upsert("1", "old"), upsert("1", "new"), upsert("2", "x"))
	idx := &fakeIndexer{}
	stop := runConsumer(t, NewConsumer(reader, idx, 2, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return reader.committedCount() == 3 }, time.Second, 5*time.Millisecond)
	calls := idx.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []service.Book{{ID: "1", Name: "new"}, {ID: "2", Name: "x"}}, calls[0].books)
}

func TestConsumer_DeleteFlushesBufferFirst(t *testing.T) {
	reader := newFakeReader(upsert("1", "a"), deleted("1"))
	idx := &fakeIndexer{}
	stop := runConsumer(t, NewConsumer(reader, idx, 10, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return reader.committedCount() == 2 }, time.Second, 5*time.Millisecond)
	calls := idx.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "batch", calls[0].op)
	assert.Equal(t, call{op: "delete", id: "1"}, calls[1])
}

func TestConsumer_DeleteOfMissingBookIsCommitted(t *testing.T) {
	reader := newFakeReader(deleted("404"))
	idx := &fakeIndexer{deleteErr: &elasticsearch.ResponseError{StatusCode: http.StatusNotFound}}
	stop := runConsumer(t, NewConsumer(reader, idx, 10, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return reader.committedCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConsumer_SkipsMalformed(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Topic: "books.events", Value: []byte(`{not json`)},
		kafka.Message{Topic: "books.events", Value: []byte(`{"event":"book.archived","id":"1"}`)},
		upsert("2", "ok"),
	)
	idx := &fakeIndexer{}
	stop := runConsumer(t, NewConsumer(reader, idx, 1, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return reader.committedCount() == 3 }, time.Second, 5*time.Millisecond)
	calls := idx.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []service.Book{{ID: "2", Name: "ok"}}, calls[0].books)
}

func TestConsumer_StopLeavesBufferUncommitted(t *testing.T) {
	reader := newFakeReader(upsert("1", "a"))
	idx := &fakeIndexer{}
	stop := runConsumer(t, NewConsumer(reader, idx, 10, time.Hour))

	require.Eventually(t, func() bool { return len(reader.msgs) == 0 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 0, reader.committedCount())
	assert.Empty(t, idx.snapshot())
	assert.True(t, reader.closed)
}

func TestConsumer_ClusterDownKeepsOffsetsUntilRecovery(t *testing.T) {
	reader := newFakeReader(upsert("1", "a"), upsert("2", "b"), deleted("3"))
	idx := &fakeIndexer{}
	idx.down.Store(true)
	stop := runConsumer(t, newTestConsumer(reader, idx, 2, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return idx.count("batch_failed") >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, reader.committedCount())
	assert.Zero(t, idx.count("delete_failed"), "delete must wait for the buffered upserts")

	idx.down.Store(false)

	require.Eventually(t, func() bool { return reader.committedCount() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, idx.count("batch"))
	assert.Equal(t, 1, idx.count("delete"))
}

func TestConsumer_DeleteRetriedWhileClusterDown(t *testing.T) {
	reader := newFakeReader(deleted("7"))
	idx := &fakeIndexer{}
	idx.down.Store(true)
	stop := runConsumer(t, newTestConsumer(reader, idx, 10, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return idx.count("delete_failed") >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, reader.committedCount())

	idx.down.Store(false)

	require.Eventually(t, func() bool { return reader.committedCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, idx.count("delete"))
}

func TestConsumer_StopWhileClusterDownCommitsNothing(t *testing.T) {
	reader := newFakeReader(upsert("1", "a"))
	idx := &fakeIndexer{}
	idx.down.Store(true)
	stop := runConsumer(t, newTestConsumer(reader, idx, 1, time.Hour))

	require.Eventually(t, func() bool { return idx.count("batch_failed") >= 1 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, 0, reader.committedCount())
}

func TestConsumer_RejectedBatchIsCommitted(t *testing.T) {
	reader := newFakeReader(upsert("1", "a"), upsert("2", "b"))
	idx := &fakeIndexer{rejectAll: true}
	stop := runConsumer(t, newTestConsumer(reader, idx, 2, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return reader.committedCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, idx.count("batch"))
}

func TestConsumer_RejectedDeleteIsCommitted(t *testing.T) {
	reader := newFakeReader(deleted("bad"))
	idx := &fakeIndexer{deleteErr: &elasticsearch.ResponseError{StatusCode: http.StatusBadRequest}}
	stop := runConsumer(t, newTestConsumer(reader, idx, 10, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return reader.committedCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, idx.count("delete"))
}

func TestConsumer_DeleteServerErrorIsRetried(t *testing.T) {
	reader := newFakeReader(deleted("5"))
	idx := &fakeIndexer{deleteErr: &elasticsearch.ResponseError{StatusCode: http.StatusInternalServerError}}
	stop := runConsumer(t, newTestConsumer(reader, idx, 10, time.Hour))
	defer stop()

	require.Eventually(t, func() bool { return idx.count("delete") >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, reader.committedCount())
}

func TestParseBookEvent(t *testing.T) {
	ev, err := ParseBookEvent(kafka.Message{Key: []byte("9"), Value: []byte(`{"book":{"name":"keyed"}}`)})
	require.NoError(t, err)
	assert.Equal(t, EventBookUpserted, ev.Event)
	assert.Equal(t, "9", ev.Book.ID)

	_, err = ParseBookEvent(kafka.Message{Value: []byte(`{"event":"book.upserted","id":"1","book":{"id":"2"}}`)})
	assert.Error(t, err)

	_, err = ParseBookEvent(kafka.Message{Value: []byte(`{"event":"book.deleted"}`)})
	assert.Error(t, err)

	_, err = ParseBookEvent(kafka.Message{Value: []byte(`{"event":"book.upserted","id":"1"}`)})
	assert.Error(t, err)
}
