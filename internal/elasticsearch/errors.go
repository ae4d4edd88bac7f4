package elasticsearch

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var (
	// ErrNoNodes is returned when the client was built without hosts or the selector rejected all of them.
	ErrNoNodes = errors.New("elasticsearch: no nodes available")
	// ErrRetryTimeout is returned when the max retry timeout elapsed before any node answered.
	ErrRetryTimeout = errors.New("elasticsearch: max retry timeout elapsed")
	// ErrClosed is returned by requests issued after Close.
	ErrClosed = errors.New("elasticsearch: client closed")
)

// ResponseError is returned for replies with a non-successful status code.
// The response itself is still available to the caller.
type ResponseError struct {
	Method     string
	Endpoint   string
	Host       string
	StatusCode int
	Body       []byte
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("method [%s], host [%s], URI [%s], status [%d]", e.Method, e.Host, e.Endpoint, e.StatusCode)
	if reason := e.Reason(); reason != "" {
		return msg + ": " + reason
	}
	if len(e.Body) > 0 {
		return msg + ": " + string(e.Body)
	}
	return msg
}

// Type returns error.type from the Elasticsearch error body, e.g. "index_not_found_exception".
func (e *ResponseError) Type() string {
	return gjson.GetBytes(e.Body, "error.type").String()
}

// Reason returns error.reason from the body. Older nodes send error as a plain string.
func (e *ResponseError) Reason() string {
	res := gjson.GetBytes(e.Body, "error")
	if !res.Exists() {
		return ""
	}
	if res.IsObject() {
		return res.Get("reason").String()
	}
	return res.String()
}

// TransportError wraps a failure to talk to a node at all (dial, reset, socket timeout).
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("elasticsearch: node %s: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
