// Package backend invokes the HTTP routes of installed modules on behalf of
// authenticated callers.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/auth"
	"github.com/epam/modular-api/internal/models"
	"github.com/epam/modular-api/internal/pkg/metrics"
)

// maxResponseBytes caps how much of a backend response is buffered before
// forwarding. Backends stream bulk data through their own channels, not
// through the facade.
const maxResponseBytes = 16 << 20

// Response is the backend's answer, forwarded to the client unmodified.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Client struct {
	httpClient *http.Client
	secret     string
	log        *slog.Logger
}

// NewClient builds the shared backend caller. The timeout bounds each whole
// call including connection setup and body read.
func NewClient(secret string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		secret: secret,
		log:    log.With("component", "backend"),
	}
}

// Invoke forwards one command invocation to the module's backend route.
// Parameters travel as query values on GET/DELETE and as a JSON body
// otherwise. A short-lived inter-service token derived from the caller's
// identity rides on Meta-Authorization unless the route opts out.
func (c *Client) Invoke(ctx context.Context, cmd *models.CommandMeta, username, requestID string, params map[string]interface{}) (*Response, error) {
	if cmd.BaseURL == "" {
		return nil, apierr.Newf(apierr.KindUpstreamError, "module %q declares no backend address", cmd.Module)
	}
	method := strings.ToUpper(cmd.Route.Method)
	target := strings.TrimRight(cmd.BaseURL, "/") + cmd.Route.Path

	var body io.Reader
	if methodHasBody(method) {
		payload := params
		if payload == nil {
			payload = map[string]interface{}{}
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, apierr.Internal(err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if methodHasBody(method) {
		req.Header.Set("Content-Type", "application/json")
	} else if len(params) > 0 {
		q := req.URL.Query()
		for name, value := range params {
			addQueryValue(q, name, value)
		}
		req.URL.RawQuery = q.Encode()
	}
	if cmd.Route.Auth != models.RouteAuthNone {
		token, err := auth.IssueMetaToken(c.secret, username)
		if err != nil {
			return nil, apierr.Internal(err)
		}
		req.Header.Set("Meta-Authorization", token)
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.BackendDurationSeconds.WithLabelValues(cmd.Module).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.transportError(cmd, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(cmd, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

func (c *Client) transportError(cmd *models.CommandMeta, err error) error {
	c.log.Warn("backend call failed", "module", cmd.Module, "command", cmd.Path, "error", err)

	var uerr *url.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &uerr) && uerr.Timeout())
	if timedOut {
		return apierr.Wrap(apierr.KindUpstreamTimeout, err,
			fmt.Sprintf("module %q did not answer in time", cmd.Module))
	}
	return apierr.Wrap(apierr.KindUpstreamError, err,
		fmt.Sprintf("module %q is unreachable", cmd.Module))
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		return false
	}
	return true
}

func addQueryValue(q url.Values, name string, value interface{}) {
	switch v := value.(type) {
	case []interface{}:
		for _, e := range v {
			addQueryValue(q, name, e)
		}
	case []string:
		for _, e := range v {
			q.Add(name, e)
		}
	case string:
		q.Add(name, v)
	case bool:
		q.Add(name, strconv.FormatBool(v))
	case float64:
		q.Add(name, strconv.FormatFloat(v, 'f', -1, 64))
	case int:
		q.Add(name, strconv.Itoa(v))
	case int64:
		q.Add(name, strconv.FormatInt(v, 10))
	default:
		q.Add(name, fmt.Sprintf("%v", v))
	}
}
