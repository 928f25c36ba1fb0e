package prover

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

// HTTPProver submits proof requests to a zero-knowledge proving service
type HTTPProver struct {
	client *resty.Client
	url    string
}

// NewHTTPProver creates a prover client posting to url
func NewHTTPProver(url string, timeout time.Duration) *HTTPProver {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPProver{client: client, url: url}
}

var _ ports.Prover = (*HTTPProver)(nil)

// Prove returns the proving service's response body as an opaque blob.
// Any non-2xx status is a hard failure.
func (p *HTTPProver) Prove(ctx context.Context, req ports.ProofRequest) (json.RawMessage, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(p.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProver, err)
	}

	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, fmt.Errorf("%w: status %d", core.ErrProver, resp.StatusCode())
	}

	body := resp.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: response is not JSON", core.ErrProver)
	}

	return json.RawMessage(body), nil
}
