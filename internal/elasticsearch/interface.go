package elasticsearch

import "context"

// Performer sends raw requests synchronously. Services depend on it instead of *Client for tests.
type Performer interface {
	PerformRequest(ctx context.Context, req *Request) (*Response, error)
}

// AsyncPerformer sends raw requests asynchronously and reports back through a listener.
type AsyncPerformer interface {
	PerformRequestAsync(ctx context.Context, req *Request, listener ResponseListener)
}

// RestClient is everything the book service needs from the cluster.
type RestClient interface {
	Performer
	AsyncPerformer
}

// Ensure *Client implements RestClient at compile time.
var _ RestClient = (*Client)(nil)
