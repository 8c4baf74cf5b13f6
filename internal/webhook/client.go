package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tsamsiyu/themelio/pkg/admission"
	"github.com/tsamsiyu/themelio/pkg/conversion"
)

const maxResponseSize = 4 << 20

// StatusError represents a webhook answering with a non-2xx status
type StatusError struct {
	URI        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook %s answered HTTP %d: %s", e.URI, e.StatusCode, e.Body)
}

func NewStatusError(uri string, statusCode int, body string) *StatusError {
	return &StatusError{
		URI:        uri,
		StatusCode: statusCode,
		Body:       body,
	}
}

// Client posts review envelopes to webhooks as JSON
type Client struct {
	logger *zap.Logger
	client *http.Client
}

func NewClient(logger *zap.Logger, timeout time.Duration) *Client {
	return &Client{
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// Convert implements conversion.Transport
func (c *Client) Convert(ctx context.Context, uri string, review *conversion.Review) (*conversion.Review, error) {
	var out conversion.Review
	if err := c.post(ctx, uri, review, &out); err != nil {
		return nil, err
	}
	if out.APIVersion != conversion.APIVersion || out.Kind != conversion.Kind {
		return nil, errors.Errorf("webhook %s answered with %s, %s", uri, out.APIVersion, out.Kind)
	}
	return &out, nil
}

// Admission returns a reviewer that consults the admission webhook at uri
func (c *Client) Admission(uri string) admission.Reviewer {
	return &admissionWebhook{client: c, uri: uri}
}

type admissionWebhook struct {
	client *Client
	uri    string
}

func (w *admissionWebhook) Review(ctx context.Context, req *admission.Request) (*admission.Response, error) {
	var out admission.Review
	if err := w.client.post(ctx, w.uri, admission.NewReview(req), &out); err != nil {
		return nil, err
	}
	if out.APIVersion != admission.APIVersion || out.Kind != admission.Kind {
		return nil, errors.Errorf("webhook %s answered with %s, %s", w.uri, out.APIVersion, out.Kind)
	}
	if out.Response == nil {
		return nil, errors.Errorf("webhook %s answered without a response", w.uri)
	}

	w.client.logger.Debug("Admission webhook answered",
		zap.String("uri", w.uri),
		zap.String("uid", out.Response.UID),
		zap.Bool("allowed", out.Response.Allowed))

	return out.Response, nil
}

func (c *Client) post(ctx context.Context, uri string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "failed to marshal review")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "webhook %s request failed", uri)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrapf(err, "failed to read webhook %s response", uri)
	}

	c.logger.Debug("Webhook call finished",
		zap.String("uri", uri),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewStatusError(uri, resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode webhook %s response", uri)
	}
	return nil
}
