// Package sink pushes measurements from the agent to the server's ingest
// endpoint. Delivery is best effort: a failed push is reported and the
// measurement dropped.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/pingmatrix/internal/model"
)

// DeliveryError reports a measurement that did not reach the server.
// Status is zero when the request never got a response.
type DeliveryError struct {
	Measurement model.Measurement
	Status      int
	Body        string
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		if e.Body != "" {
			return fmt.Sprintf("deliver %s: server returned %d: %s", e.Measurement.Pair(), e.Status, e.Body)
		}
		return fmt.Sprintf("deliver %s: server returned %d", e.Measurement.Pair(), e.Status)
	}
	return fmt.Sprintf("deliver %s: %v", e.Measurement.Pair(), e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// HTTPSink posts measurements to <baseURL>/pings.
type HTTPSink struct {
	baseURL string
	http    *http.Client
}

// NewHTTPSink creates a sink for the given server base URL
// (e.g. http://localhost:8000).
func NewHTTPSink(baseURL string) *HTTPSink {
	return &HTTPSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Deliver posts m and waits for a 2xx response.
func (s *HTTPSink) Deliver(ctx context.Context, m model.Measurement) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return &DeliveryError{Measurement: m, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/pings", bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Measurement: m, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	res, err := s.http.Do(req)
	if err != nil {
		return &DeliveryError{Measurement: m, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &DeliveryError{
			Measurement: m,
			Status:      res.StatusCode,
			Body:        strings.TrimSpace(string(body)),
			Err:         fmt.Errorf("unexpected status %s", res.Status),
		}
	}
	io.Copy(io.Discard, res.Body)
	return nil
}
