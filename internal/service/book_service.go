package service

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/psds-microservice/book-service/internal/batch"
	"github.com/psds-microservice/book-service/internal/elasticsearch"
	"github.com/tidwall/gjson"
)

// BookServicer: интерфейс для HTTP-хендлеров и Kafka-воркера (Dependency Inversion).
type BookServicer interface {
	Info(ctx context.Context) (string, error)
	InfoAsync(ctx context.Context)
	Add(ctx context.Context, book *Book) (string, error)
	ParallelAddOrUpdate(ctx context.Context, books []Book) ([]string, error)
	Get(ctx context.Context, id string) (string, error)
	Update(ctx context.Context, id string, book *Book) (string, error)
	UpdateName(ctx context.Context, id, name string) (string, error)
	Delete(ctx context.Context, id string) (string, error)
	Query(ctx context.Context) (string, error)
	QueryMatch(ctx context.Context, q MatchQuery) (string, error)
}

const (
	DefaultIndex = "book"

	DefaultMatchField = "name"
	DefaultMatchFrom  = 0
	DefaultMatchSize  = 2

	// updateNameScript takes the new name as a bound parameter, never spliced into the source.
	updateNameScript = "ctx._source.name = params.name"

	matchAllQuery = `{"query":{"match_all":{}}}`
)

// MatchQuery is a single-field full text query with paging.
type MatchQuery struct {
	Field string
	Text  string
	From  int
	Size  int
}

type BookService struct {
	es    elasticsearch.RestClient
	batch *batch.Coordinator
	index string
}

// NewBookService builds the service. batchWaitTimeout <= 0 makes batch writes wait for every item.
func NewBookService(es elasticsearch.RestClient, index string, batchWaitTimeout time.Duration) *BookService {
	if index == "" {
		index = DefaultIndex
	}
	return &BookService{
		es:    es,
		batch: batch.NewCoordinator(es, batchWaitTimeout),
		index: index,
	}
}

// EnsureIndex creates the book index with its mapping when missing.
func (s *BookService) EnsureIndex(ctx context.Context) error {
	if err := elasticsearch.EnsureIndex(ctx, s.es, s.index, elasticsearch.BooksMapping()); err != nil {
		return errors.Wrapf(err, "ensure %s index", s.index)
	}
	return nil
}

func (s *BookService) docEndpoint(id string) string {
	return "/" + url.PathEscape(s.index) + "/_doc/" + url.PathEscape(id)
}

func (s *BookService) updateEndpoint(id string) string {
	return "/" + url.PathEscape(s.index) + "/_update/" + url.PathEscape(id)
}

func (s *BookService) searchEndpoint() string {
	return "/" + url.PathEscape(s.index) + "/_search"
}

// perform sends req synchronously and returns the raw body.
func (s *BookService) perform(ctx context.Context, req *elasticsearch.Request) (string, error) {
	resp, err := s.es.PerformRequest(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

// Info GET / returns cluster name and version.
func (s *BookService) Info(ctx context.Context) (string, error) {
	req := elasticsearch.NewRequest(http.MethodGet, "/")
	req.AddParameter("pretty", "true")
	return s.perform(ctx, req)
}

// InfoAsync fires GET / and returns at once. The request outlives the caller's context.
func (s *BookService) InfoAsync(ctx context.Context) {
	req := elasticsearch.NewRequest(http.MethodGet, "/")
	s.es.PerformRequestAsync(context.WithoutCancel(ctx), req, elasticsearch.ListenerFuncs{
		Success: func(resp *elasticsearch.Response) {
			log.Printf("service: async info succeeded (host=%s, status=%d)", resp.Host, resp.StatusCode)
		},
		Failure: func(err error) {
			log.Printf("service: async info failed: %v", err)
		},
	})
	log.Println("service: async info submitted")
}

func (s *BookService) indexRequest(book *Book) (*elasticsearch.Request, error) {
	req := elasticsearch.NewRequest(http.MethodPost, s.docEndpoint(book.ID))
	if err := req.SetJSONBody(book); err != nil {
		return nil, err
	}
	return req, nil
}

// Add indexes book under its own ID (creates or replaces).
func (s *BookService) Add(ctx context.Context, book *Book) (string, error) {
	req, err := s.indexRequest(book)
	if err != nil {
		return "", err
	}
	req.AddParameter("pretty", "true")
	return s.perform(ctx, req)
}

// ParallelAddOrUpdate indexes all books concurrently. The result has one entry per book in the
// same order: the response body, or "" when that book failed.
func (s *BookService) ParallelAddOrUpdate(ctx context.Context, books []Book) ([]string, error) {
	reqs := make([]*elasticsearch.Request, len(books))
	for i := range books {
		req, err := s.indexRequest(&books[i])
		if err != nil {
			return nil, errors.Wrapf(err, "book %q", books[i].ID)
		}
		reqs[i] = req
	}

	results, err := s.batch.Run(ctx, reqs)
	sum := batch.Summarize(results)
	log.Printf("service: batch of %d books: %d failed, %s", sum.Total, sum.Failed, resultCounts(results))
	return results, err
}

// resultCounts renders e.g. "created=2 updated=1" from index responses.
func resultCounts(results []string) string {
	counts := map[string]int{}
	var order []string
	for _, r := range results {
		if r == "" {
			continue
		}
		res := gjson.Get(r, "result").String()
		if res == "" {
			res = "unknown"
		}
		if counts[res] == 0 {
			order = append(order, res)
		}
		counts[res]++
	}
	out := ""
	for i, k := range order {
		if i > 0 {
			out += " "
		}
		out += k + "=" + strconv.Itoa(counts[k])
	}
	if out == "" {
		return "no results"
	}
	return out
}

// Get returns the raw get-by-id response.
func (s *BookService) Get(ctx context.Context, id string) (string, error) {
	req := elasticsearch.NewRequest(http.MethodGet, s.docEndpoint(id))
	req.AddParameter("pretty", "true")
	return s.perform(ctx, req)
}

// Update merges book into the stored document ({"doc": book}).
func (s *BookService) Update(ctx context.Context, id string, book *Book) (string, error) {
	req := elasticsearch.NewRequest(http.MethodPost, s.updateEndpoint(id))
	req.AddParameter("pretty", "true")
	if err := req.SetJSONBody(map[string]interface{}{"doc": book}); err != nil {
		return "", err
	}
	return s.perform(ctx, req)
}

// UpdateName sets name through a painless script with name bound as a parameter.
func (s *BookService) UpdateName(ctx context.Context, id, name string) (string, error) {
	req := elasticsearch.NewRequest(http.MethodPost, s.updateEndpoint(id))
	req.AddParameter("pretty", "true")
	body := map[string]interface{}{
		"script": map[string]interface{}{
			"source": updateNameScript,
			"lang":   "painless",
			"params": map[string]interface{}{"name": name},
		},
	}
	if err := req.SetJSONBody(body); err != nil {
		return "", err
	}
	return s.perform(ctx, req)
}

// GetBook reads a book and decodes its _source. A missing document yields ErrBookNotFound.
func (s *BookService) GetBook(ctx context.Context, id string) (*Book, error) {
	body, err := s.Get(ctx, id)
	if err != nil {
		var respErr *elasticsearch.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound && respErr.Type() == "" {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return DecodeBook([]byte(body))
}

// Delete removes a book by ID.
func (s *BookService) Delete(ctx context.Context, id string) (string, error) {
	req := elasticsearch.NewRequest(http.MethodDelete, s.docEndpoint(id))
	req.AddParameter("pretty", "true")
	return s.perform(ctx, req)
}

// Query returns every book (match_all, default page size of the cluster).
func (s *BookService) Query(ctx context.Context) (string, error) {
	req := elasticsearch.NewRequest(http.MethodGet, s.searchEndpoint())
	req.SetRawJSON([]byte(matchAllQuery))
	return s.perform(ctx, req)
}

// QueryMatch runs a match query on one field. Zero values fall back to name / from 0 / size 2.
func (s *BookService) QueryMatch(ctx context.Context, q MatchQuery) (string, error) {
	if q.Field == "" {
		q.Field = DefaultMatchField
	}
	if q.From < 0 {
		q.From = DefaultMatchFrom
	}
	if q.Size <= 0 {
		q.Size = DefaultMatchSize
	}

	req := elasticsearch.NewRequest(http.MethodGet, s.searchEndpoint())
	req.AddParameter("from", strconv.Itoa(q.From))
	req.AddParameter("size", strconv.Itoa(q.Size))
	if err := req.SetJSONBody(map[string]interface{}{
		"query": map[string]interface{}{
			"match": map[string]interface{}{q.Field: q.Text},
		},
	}); err != nil {
		return "", err
	}
	return s.perform(ctx, req)
}

var _ BookServicer = (*BookService)(nil)
