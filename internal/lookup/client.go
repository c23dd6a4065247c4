package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/clearmeat/go-scan-core/internal/config"
	"github.com/clearmeat/go-scan-core/internal/domain"
)

// Sentinel errors the coordinator maps onto outcome kinds. Anything else
// coming out of the client is treated as transient.
var (
	// ErrNotFound means the service has no record for the requested resource.
	ErrNotFound = errors.New("no record for this code")
	// ErrRateLimited means the service refused the call with HTTP 429.
	ErrRateLimited = errors.New("rate limited")
)

// Client is the remote health-assessment service contract. Implementations
// perform no retries; retry policy lives in the coordinator and the session.
type Client interface {
	// GetAssessment fetches the assessment for a normalized product code.
	GetAssessment(ctx context.Context, code string) (*domain.Assessment, error)
	// GetIngredient fetches the detail analysis for one ingredient.
	GetIngredient(ctx context.Context, id string) (*domain.IngredientAnalysis, error)
}

// HTTPClient talks to the ClearMeat assessment API over HTTP/JSON.
type HTTPClient struct {
	base  string
	token string
	lang  string
	hc    *http.Client
}

// NewHTTPClient builds a client from the remote config. The per-call
// deadline is enforced twice: on the http.Client and by the coordinator's
// call context, whichever fires first.
func NewHTTPClient(cfg config.RemoteConfig) *HTTPClient {
	return &HTTPClient{
		base:  cfg.BaseURL,
		token: cfg.Token,
		lang:  cfg.Language.String(),
		hc:    &http.Client{Timeout: cfg.Timeout},
	}
}

// GetAssessment implements Client.
func (c *HTTPClient) GetAssessment(ctx context.Context, code string) (*domain.Assessment, error) {
	var a domain.Assessment
	if err := c.get(ctx, "/api/v1/products/"+url.PathEscape(code), &a); err != nil {
		return nil, err
	}
	if a.Code == "" {
		a.Code = code
	}
	return &a, nil
}

// GetIngredient implements Client.
func (c *HTTPClient) GetIngredient(ctx context.Context, id string) (*domain.IngredientAnalysis, error) {
	var ia domain.IngredientAnalysis
	if err := c.get(ctx, "/api/v1/ingredients/"+url.PathEscape(id), &ia); err != nil {
		return nil, err
	}
	if ia.ID == "" {
		ia.ID = id
	}
	return &ia, nil
}

// get performs one GET and decodes the body into out, mapping the API's
// error surface onto the package sentinels.
func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("remote status %d", resp.StatusCode)
	}
}
