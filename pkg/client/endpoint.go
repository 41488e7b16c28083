package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmerrifield20/canapi/internal/metrics"
	"github.com/jmerrifield20/canapi/pkg/urltemplate"
	"go.uber.org/zap"
)

// defaultMaxResponseBytes bounds how much of a response body is read.
const defaultMaxResponseBytes = 32 << 20

// Endpoint is one (method, path template) pair bound to an API's base URI
// and shared session. Endpoints are immutable.
type Endpoint struct {
	api      string
	key      string
	method   string
	uri      string
	path     string
	defaults Options
	session  Session
	maxBody  int64
	logger   *zap.Logger
}

// Method returns the upper-cased HTTP method.
func (e *Endpoint) Method() string { return e.method }

// Path returns the unexpanded path template.
func (e *Endpoint) Path() string { return e.path }

// Key returns the dotted member path of the endpoint within its API.
func (e *Endpoint) Key() string { return e.key }

// Defaults returns a copy of the endpoint's default request options.
func (e *Endpoint) Defaults() Options { return e.defaults.Merge(nil) }

// URL expands the path template against urlParams and prefixes the base URI.
func (e *Endpoint) URL(urlParams map[string]string) (string, error) {
	resolved, err := urltemplate.Expand(e.uri+e.path, urlParams)
	if err != nil {
		return "", fmt.Errorf("%s: %w", e.key, err)
	}
	return resolved, nil
}

// Call performs the request and returns the decoded JSON body, or the raw
// body bytes ([]byte) when it is not valid JSON.
//
//	data, err := api.Lookup("anything.get")
//	out, err := ep.Call(ctx, nil, client.Options{"params": map[string]any{"p0": "1"}})
//
// opts are merged over the endpoint's default kwargs, one level deep.
// A non-2xx response returns *HTTPStatusError.
func (e *Endpoint) Call(ctx context.Context, urlParams map[string]string, opts Options) (any, error) {
	body, err := e.do(ctx, urlParams, opts)
	if err != nil {
		return nil, err
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return body, nil
	}
	return data, nil
}

// Decode performs the request and JSON-decodes the body into v.
func (e *Endpoint) Decode(ctx context.Context, urlParams map[string]string, opts Options, v any) error {
	body, err := e.do(ctx, urlParams, opts)
	if err != nil {
		return err
	}
	if v == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s response: %w", e.key, err)
	}
	return nil
}

func (e *Endpoint) do(ctx context.Context, urlParams map[string]string, opts Options) ([]byte, error) {
	target, err := e.URL(urlParams)
	if err != nil {
		return nil, err
	}
	ro, err := ParseRequestOptions(e.defaults.Merge(opts))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.key, err)
	}

	start := time.Now()
	resp, err := e.session.Do(ctx, e.method, target, ro)
	if err != nil {
		metrics.RecordCall(e.api, e.method, 0, time.Since(start))
		e.logger.Warn("endpoint call failed",
			zap.String("api", e.api),
			zap.String("endpoint", e.key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s %s: %w", e.method, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody+1))
	metrics.RecordCall(e.api, e.method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", e.key, err)
	}
	if int64(len(body)) > e.maxBody {
		return nil, fmt.Errorf("%s %s: %w (limit %d bytes)", e.method, target, ErrResponseTooLarge, e.maxBody)
	}

	e.logger.Debug("endpoint call",
		zap.String("api", e.api),
		zap.String("endpoint", e.key),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &HTTPStatusError{
			Method:     e.method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}
	return body, nil
}

func newEndpoint(root *API, key string, method, path string, defaults Options, maxBody int64) *Endpoint {
	return &Endpoint{
		api:      root.name,
		key:      key,
		method:   strings.ToUpper(method),
		uri:      root.uri,
		path:     path,
		defaults: defaults,
		session:  root.session,
		maxBody:  maxBody,
		logger:   root.logger,
	}
}
