package elasticsearch

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// EnsureIndex creates an index if it doesn't exist
func EnsureIndex(ctx context.Context, p Performer, index string, mapping map[string]interface{}) error {
	endpoint := "/" + url.PathEscape(index)

	// HEAD отвечает 404 без ошибки, если индекса нет
	resp, err := p.PerformRequest(ctx, NewRequest(http.MethodHead, endpoint))
	if err != nil {
		return errors.Wrap(err, "check index")
	}
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	if mapping == nil {
		mapping = make(map[string]interface{})
	}
	req := NewRequest(http.MethodPut, endpoint)
	if err := req.SetJSONBody(mapping); err != nil {
		return err
	}
	if _, err := p.PerformRequest(ctx, req); err != nil {
		// индекс мог создать параллельный процесс
		var respErr *ResponseError
		if errors.As(err, &respErr) && respErr.Type() == "resource_already_exists_exception" {
			return nil
		}
		return errors.Wrap(err, "create index")
	}
	return nil
}
