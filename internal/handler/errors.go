package handler

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/book-service/internal/batch"
	"github.com/psds-microservice/book-service/internal/elasticsearch"
	"github.com/psds-microservice/book-service/internal/validator"
)

// ErrorKind classifies failures at the HTTP boundary.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUpstreamTimeout
	KindUpstreamUnavailable
	KindUpstreamRejected
)

// Classify maps err to a kind and the status code it is served with.
func Classify(err error) (ErrorKind, int) {
	var respErr *elasticsearch.ResponseError
	var transportErr *elasticsearch.TransportError
	var netErr net.Error

	switch {
	case errors.Is(err, validator.ErrValidation):
		return KindValidation, http.StatusBadRequest
	case errors.As(err, &respErr):
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return KindNotFound, http.StatusNotFound
		case respErr.StatusCode == http.StatusConflict:
			return KindConflict, http.StatusConflict
		case respErr.StatusCode >= 400 && respErr.StatusCode < 500:
			return KindUpstreamRejected, respErr.StatusCode
		case respErr.StatusCode == http.StatusGatewayTimeout:
			return KindUpstreamTimeout, http.StatusGatewayTimeout
		default:
			return KindUpstreamUnavailable, http.StatusBadGateway
		}
	case errors.Is(err, elasticsearch.ErrRetryTimeout),
		errors.Is(err, batch.ErrWaitTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindUpstreamTimeout, http.StatusGatewayTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindUpstreamTimeout, http.StatusGatewayTimeout
	case errors.Is(err, elasticsearch.ErrNoNodes),
		errors.Is(err, elasticsearch.ErrClosed),
		errors.As(err, &transportErr):
		return KindUpstreamUnavailable, http.StatusServiceUnavailable
	default:
		return KindInternal, http.StatusInternalServerError
	}
}

// writeError is the single error boundary: logs the request and the error, then answers with
// the mapped status. Elasticsearch error bodies are relayed unchanged.
func writeError(c *gin.Context, err error) {
	kind, status := Classify(err)
	logError(c, status, err)

	var respErr *elasticsearch.ResponseError
	if kind != KindValidation && errors.As(err, &respErr) && len(respErr.Body) > 0 {
		c.Data(status, jsonContentType, respErr.Body)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func logError(c *gin.Context, status int, err error) {
	log.Printf("http: %s %s -> %d: %v", c.Request.Method, c.Request.URL.String(), status, err)
}
