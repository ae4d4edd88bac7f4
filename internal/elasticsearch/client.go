package elasticsearch

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultSocketTimeout   = 60 * time.Second
	DefaultMaxRetryTimeout = 60 * time.Second
)

// Options configures the low-level client.
type Options struct {
	Hosts []string
	// Nodes overrides Hosts when set (lets callers attach names/roles).
	Nodes []Node

	// Headers are sent with every request. Content-Type: application/json is set by default.
	Headers http.Header

	ConnectTimeout  time.Duration
	SocketTimeout   time.Duration
	MaxRetryTimeout time.Duration

	NodeSelector NodeSelector
	Routing      Routing

	// FailureListener is called every time a node fails and gets marked dead.
	FailureListener func(Node)

	// MaxRequestsPerSecond throttles outgoing requests (all attempts). 0 disables throttling.
	MaxRequestsPerSecond float64

	// HTTPClient replaces the client built from the timeouts (tests).
	HTTPClient *http.Client
}

// Client is a low-level Elasticsearch REST client: it sends raw requests, retries them on other
// nodes within MaxRetryTimeout and hands back the raw response.
type Client struct {
	pool            *nodePool
	http            *http.Client
	headers         http.Header
	maxRetryTimeout time.Duration
	failureListener func(Node)
	limiter         *rate.Limiter

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewClient creates a new Elasticsearch client.
func NewClient(opts Options) (*Client, error) {
	nodes := opts.Nodes
	if len(nodes) == 0 {
		var err error
		nodes, err = ParseNodes(opts.Hosts)
		if err != nil {
			return nil, err
		}
	}
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}

	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.SocketTimeout <= 0 {
		opts.SocketTimeout = DefaultSocketTimeout
	}
	if opts.MaxRetryTimeout <= 0 {
		opts.MaxRetryTimeout = DefaultMaxRetryTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		t.ResponseHeaderTimeout = opts.SocketTimeout
		httpClient = &http.Client{Transport: t}
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	for k, vs := range opts.Headers {
		headers.Del(k)
		for _, v := range vs {
			headers.Add(k, v)
		}
	}

	var limiter *rate.Limiter
	if opts.MaxRequestsPerSecond > 0 {
		burst := int(opts.MaxRequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.MaxRequestsPerSecond), burst)
	}

	failureListener := opts.FailureListener
	if failureListener == nil {
		failureListener = func(n Node) {
			log.Printf("elasticsearch: node %s failed", n)
		}
	}

	return &Client{
		pool:            newNodePool(nodes, opts.NodeSelector, opts.Routing),
		http:            httpClient,
		headers:         headers,
		maxRetryTimeout: opts.MaxRetryTimeout,
		failureListener: failureListener,
		limiter:         limiter,
	}, nil
}

// PerformRequest sends req and blocks until a node answers or every candidate failed.
// A non-2xx answer is returned together with a *ResponseError.
func (c *Client) PerformRequest(ctx context.Context, req *Request) (*Response, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return c.perform(ctx, req)
}

// PerformRequestAsync sends req on its own goroutine. listener gets exactly one callback.
// Cancelling ctx aborts the request; the listener then sees the context error.
func (c *Client) PerformRequestAsync(ctx context.Context, req *Request, listener ResponseListener) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		listener.OnFailure(ErrClosed)
		return
	}
	c.inflight.Add(1)
	c.mu.RUnlock()

	go func() {
		defer c.inflight.Done()
		resp, err := c.perform(ctx, req)
		if err != nil {
			listener.OnFailure(err)
			return
		}
		listener.OnSuccess(resp)
	}()
}

// Close rejects new requests and waits for in-flight async requests to finish.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.inflight.Wait()
}

func (c *Client) perform(ctx context.Context, req *Request) (*Response, error) {
	nodes, err := c.pool.candidates(req.Endpoint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.maxRetryTimeout)
	defer cancel()

	var lastErr error
	for _, node := range nodes {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, c.retryTimeoutErr(lastErr, err)
			}
		}

		resp, err := c.send(ctx, node, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.retryTimeoutErr(lastErr, err)
			}
			c.nodeFailed(node)
			lastErr = &TransportError{Host: node.Host, Err: err}
			continue
		}

		if isRetryStatus(resp.StatusCode) {
			c.nodeFailed(node)
			lastErr = responseError(req, resp)
			if ctx.Err() != nil {
				return nil, c.retryTimeoutErr(lastErr, ctx.Err())
			}
			continue
		}

		c.pool.markAlive(node)
		if !isSuccess(req.Method, resp.StatusCode) {
			return resp, responseError(req, resp)
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, node Node, req *Request) (*Response, error) {
	url := node.Host + req.Endpoint
	if len(req.Params) > 0 {
		url += "?" + req.Params.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "execute request")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Host:       node.Host,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

func (c *Client) nodeFailed(n Node) {
	c.pool.markDead(n)
	c.failureListener(n)
}

// retryTimeoutErr distinguishes the caller's own cancellation from our retry budget running out.
func (c *Client) retryTimeoutErr(lastErr, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	if lastErr != nil {
		return errors.Wrapf(ErrRetryTimeout, "%v (last error: %v)", c.maxRetryTimeout, lastErr)
	}
	return errors.Wrapf(ErrRetryTimeout, "%v: %v", c.maxRetryTimeout, cause)
}

func responseError(req *Request, resp *Response) *ResponseError {
	return &ResponseError{
		Method:     req.Method,
		Endpoint:   req.Endpoint,
		Host:       resp.Host,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}
}

func isRetryStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isSuccess(method string, code int) bool {
	if code < 300 {
		return true
	}
	return method == http.MethodHead && code == http.StatusNotFound
}
