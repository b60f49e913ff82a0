// Package remote implements the client for the server-side system of
// record. The sync core only depends on the Client interface; the HTTP
// implementation lives here so the whole stack is runnable, and tests
// substitute fakes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pomadehq/pomade/internal/models"
)

// Client exposes per-entity CRUD against the remote store. All calls carry a
// bounded timeout via ctx; a timeout is treated like any other remote
// failure.
type Client interface {
	Create(ctx context.Context, entity models.EntityKind, id string, payload json.RawMessage) error
	Update(ctx context.Context, entity models.EntityKind, id string, payload json.RawMessage) error
	// ForceUpdate overwrites the remote copy even if the remote believes it
	// has a newer version. Used after last-write-wins resolution decides
	// the local copy wins.
	ForceUpdate(ctx context.Context, entity models.EntityKind, id string, payload json.RawMessage) error
	Delete(ctx context.Context, entity models.EntityKind, id string) error
	Get(ctx context.Context, entity models.EntityKind, id string) (*models.Record, error)
	List(ctx context.Context, entity models.EntityKind, storeID string) ([]*models.Record, error)
}

// Error is a remote store failure carrying enough detail to classify it.
// StatusCode 0 means the request never produced an HTTP response
// (connectivity loss, timeout).
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is worth retrying: connectivity
// loss, timeouts, throttling, and server-side errors. Validation rejections
// and other 4xx responses are permanent.
func (e *Error) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// IsTemporary reports whether err is a retryable remote failure. Unknown
// error types are treated as temporary so a classification gap never
// abandons data early.
func IsTemporary(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Temporary()
	}
	return true
}

// IsConflict reports whether err is a remote version conflict.
func IsConflict(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.StatusCode == http.StatusConflict
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// HTTPClient talks to the Pomade backend over HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a remote client for baseURL. Timeout bounds every
// call regardless of the caller's context.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

func (c *HTTPClient) entityURL(entity models.EntityKind, id string) string {
	u := fmt.Sprintf("%s/v1/%s", c.baseURL, entity)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *HTTPClient) do(ctx context.Context, op, method, rawURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%s", bytes.TrimSpace(data))}
	}
	return data, nil
}

// Create creates a record on the remote store.
func (c *HTTPClient) Create(ctx context.Context, entity models.EntityKind, id string, payload json.RawMessage) error {
	body, err := json.Marshal(map[string]any{"id": id, "payload": payload})
	if err != nil {
		return &Error{Op: "create", Err: err}
	}
	_, err = c.do(ctx, "create", http.MethodPost, c.entityURL(entity, ""), body)
	return err
}

// Update updates a record on the remote store.
func (c *HTTPClient) Update(ctx context.Context, entity models.EntityKind, id string, payload json.RawMessage) error {
	_, err := c.do(ctx, "update", http.MethodPut, c.entityURL(entity, id), payload)
	return err
}

// ForceUpdate updates a record, overriding the remote version check.
func (c *HTTPClient) ForceUpdate(ctx context.Context, entity models.EntityKind, id string, payload json.RawMessage) error {
	_, err := c.do(ctx, "force-update", http.MethodPut, c.entityURL(entity, id)+"?force=1", payload)
	return err
}

// Delete removes a record from the remote store.
func (c *HTTPClient) Delete(ctx context.Context, entity models.EntityKind, id string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, c.entityURL(entity, id), nil)
	return err
}

// Get fetches a single record from the remote store.
func (c *HTTPClient) Get(ctx context.Context, entity models.EntityKind, id string) (*models.Record, error) {
	data, err := c.do(ctx, "get", http.MethodGet, c.entityURL(entity, id), nil)
	if err != nil {
		return nil, err
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &Error{Op: "get", Err: fmt.Errorf("malformed response: %w", err)}
	}
	return &rec, nil
}

// List fetches all records of a kind owned by a store id.
func (c *HTTPClient) List(ctx context.Context, entity models.EntityKind, storeID string) ([]*models.Record, error) {
	u := c.entityURL(entity, "") + "?store_id=" + url.QueryEscape(storeID)
	data, err := c.do(ctx, "list", http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var recs []*models.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, &Error{Op: "list", Err: fmt.Errorf("malformed response: %w", err)}
	}
	return recs, nil
}
