package tagmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://tagmanager.googleapis.com/tagmanager/v2"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Client is the remote collection contract used by the exporter and importer.
type Client interface {
	List(ctx context.Context, kind Kind, workspacePath string) ([]Object, error)
	Create(ctx context.Context, kind Kind, workspacePath string, body Object) (Object, error)
	Update(ctx context.Context, kind Kind, objectPath string, body Object) (Object, error)
	Delete(ctx context.Context, objectPath string) error
	ListBuiltInVariables(ctx context.Context, workspacePath string) ([]Object, error)
	CreateBuiltInVariables(ctx context.Context, workspacePath string, types []string) ([]Object, error)
	RevertBuiltInVariable(ctx context.Context, workspacePath, variableType string) error
	GetContainer(ctx context.Context, containerPath string) (Container, error)
}

type HTTPClientOptions struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type HTTPClient struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		tokens:     opts.Tokens,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

func (c *HTTPClient) List(ctx context.Context, kind Kind, workspacePath string) ([]Object, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	return c.listAll(ctx, workspacePath+"/"+kind.Collection(), kind.listKey())
}

func (c *HTTPClient) Create(ctx context.Context, kind Kind, workspacePath string, body Object) (Object, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	var out Object
	err := c.doJSON(ctx, http.MethodPost, workspacePath+"/"+kind.Collection(), nil, body, &out)
	return out, err
}

func (c *HTTPClient) Update(ctx context.Context, kind Kind, objectPath string, body Object) (Object, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	var out Object
	err := c.doJSON(ctx, http.MethodPut, objectPath, nil, body, &out)
	return out, err
}

func (c *HTTPClient) Delete(ctx context.Context, objectPath string) error {
	return c.doJSON(ctx, http.MethodDelete, objectPath, nil, nil, nil)
}

func (c *HTTPClient) ListBuiltInVariables(ctx context.Context, workspacePath string) ([]Object, error) {
	return c.listAll(ctx, workspacePath+"/"+BuiltInVariablesCollection, builtInVariablesListKey)
}

func (c *HTTPClient) CreateBuiltInVariables(ctx context.Context, workspacePath string, types []string) ([]Object, error) {
	q := url.Values{}
	for _, variableType := range types {
		q.Add("type", variableType)
	}
	var out struct {
		BuiltInVariable []Object `json:"builtInVariable"`
	}
	if err := c.doJSON(ctx, http.MethodPost, workspacePath+"/"+BuiltInVariablesCollection, q, nil, &out); err != nil {
		return nil, err
	}
	return out.BuiltInVariable, nil
}

func (c *HTTPClient) RevertBuiltInVariable(ctx context.Context, workspacePath, variableType string) error {
	q := url.Values{}
	q.Set("type", variableType)
	return c.doJSON(ctx, http.MethodPost, workspacePath+"/"+BuiltInVariablesCollection+":revert", q, nil, nil)
}

func (c *HTTPClient) GetContainer(ctx context.Context, containerPath string) (Container, error) {
	var out Container
	err := c.doJSON(ctx, http.MethodGet, containerPath, nil, nil, &out)
	return out, err
}

func (c *HTTPClient) listAll(ctx context.Context, collectionPath, listKey string) ([]Object, error) {
	items := []Object{}
	pageToken := ""
	for {
		q := url.Values{}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page map[string]json.RawMessage
		if err := c.doJSON(ctx, http.MethodGet, collectionPath, q, nil, &page); err != nil {
			return nil, err
		}
		if raw, ok := page[listKey]; ok {
			objects, err := DecodeObjects(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, objects...)
		}
		pageToken = ""
		if raw, ok := page["nextPageToken"]; ok {
			_ = json.Unmarshal(raw, &pageToken)
		}
		if pageToken == "" {
			return items, nil
		}
	}
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	method, requestPath string,
	query url.Values,
	body any,
	out any,
) error {
	if c.tokens == nil {
		return ErrMissingCredentials
	}
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	target := c.baseURL + "/" + strings.TrimLeft(requestPath, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	// A POST that failed in transit or with a 5xx may already have been applied.
	idempotent := method != http.MethodPost
	refreshed := false
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if idempotent && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(payloadBytes)) == 0 {
				return nil
			}
			return decodeJSON(payloadBytes, out)
		}

		if resp.StatusCode == http.StatusUnauthorized && !refreshed {
			refreshed = true
			token, err = c.tokens.Refresh(ctx)
			if err != nil {
				return err
			}
			continue
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			(idempotent && resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retryable && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return parseHTTPError(resp.StatusCode, payloadBytes)
	}
}

func parseHTTPError(statusCode int, payload []byte) error {
	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(payload))
	status := ""
	if json.Unmarshal(payload, &envelope) == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		status = envelope.Error.Status
	}
	return &HTTPError{
		StatusCode: statusCode,
		Status:     status,
		Message:    message,
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
