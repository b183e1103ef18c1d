package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/herald/internal/domain/model"
)

// HTTPSink posts events to the ingest endpoint.
type HTTPSink struct {
	client *http.Client
	url    string
}

// NewHTTPSink creates a sink posting to baseURL + "/events".
func NewHTTPSink(baseURL string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(baseURL, "/") + "/events",
	}
}

// Submit implements Sink.
func (s *HTTPSink) Submit(ctx context.Context, raw model.RawEvent) (Result, error) {
	body, err := json.Marshal(raw)
	if err != nil {
		return ResultFailed, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return ResultFailed, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return ResultFailed, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusAccepted:
		return ResultAccepted, nil
	case http.StatusTooManyRequests:
		return ResultBackpressure, nil
	case http.StatusBadRequest:
		return ResultRejected, nil
	}
	return ResultFailed, fmt.Errorf("%w: status %d", ErrUnexpected, resp.StatusCode)
}

// RawPublisher writes raw events to the events topic.
type RawPublisher interface {
	PublishRawEvent(ctx context.Context, raw *model.RawEvent) error
}

// PublisherSink submits events through a RawPublisher.
type PublisherSink struct {
	pub RawPublisher
}

// NewPublisherSink creates a sink over pub.
func NewPublisherSink(pub RawPublisher) *PublisherSink {
	return &PublisherSink{pub: pub}
}

// Submit implements Sink.
func (s *PublisherSink) Submit(ctx context.Context, raw model.RawEvent) (Result, error) {
	if err := s.pub.PublishRawEvent(ctx, &raw); err != nil {
		return ResultFailed, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	return ResultAccepted, nil
}
