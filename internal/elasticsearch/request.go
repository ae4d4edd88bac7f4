package elasticsearch

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// Request: один HTTP-запрос к кластеру: метод, endpoint относительно хоста, query-параметры и тело.
type Request struct {
	Method   string
	Endpoint string
	Params   url.Values
	Body     []byte
}

// NewRequest creates a request for the given method and endpoint (e.g. "GET", "/book/_doc/1").
func NewRequest(method, endpoint string) *Request {
	return &Request{
		Method:   method,
		Endpoint: endpoint,
		Params:   url.Values{},
	}
}

// AddParameter adds a query string parameter, e.g. pretty=true.
func (r *Request) AddParameter(key, value string) {
	if r.Params == nil {
		r.Params = url.Values{}
	}
	r.Params.Set(key, value)
}

// SetJSONBody marshals v and uses it as the request entity.
func (r *Request) SetJSONBody(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal request body")
	}
	r.Body = body
	return nil
}

// SetRawJSON uses b verbatim as the request entity.
func (r *Request) SetRawJSON(b []byte) {
	r.Body = b
}

func (r *Request) String() string {
	if len(r.Params) == 0 {
		return r.Method + " " + r.Endpoint
	}
	return r.Method + " " + r.Endpoint + "?" + r.Params.Encode()
}

// Response: ответ узла кластера. Body уже вычитан целиком.
type Response struct {
	StatusCode int
	Host       string
	Header     http.Header
	Body       []byte
}

// String returns the response entity as text.
func (r *Response) String() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// ResponseListener receives the outcome of an asynchronous request.
// Exactly one of the methods is called, exactly once.
type ResponseListener interface {
	OnSuccess(resp *Response)
	OnFailure(err error)
}

// ListenerFuncs adapts two plain functions to ResponseListener. Nil funcs are skipped.
type ListenerFuncs struct {
	Success func(resp *Response)
	Failure func(err error)
}

func (l ListenerFuncs) OnSuccess(resp *Response) {
	if l.Success != nil {
		l.Success(resp)
	}
}

func (l ListenerFuncs) OnFailure(err error) {
	if l.Failure != nil {
		l.Failure(err)
	}
}
