package aspectscore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// RetryPolicy configures the retrying transport used by the HTTP embedders.
// Connection errors, 429 and 5xx responses are retried with exponential
// backoff between WaitMin and WaitMax.
type RetryPolicy struct {
	Max     int
	WaitMin time.Duration
	WaitMax time.Duration
	Timeout time.Duration // per attempt
}

// DefaultRetryPolicy suits a local model server or a hosted API.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Max:     3,
		WaitMin: 500 * time.Millisecond,
		WaitMax: 5 * time.Second,
		Timeout: 30 * time.Second,
	}
}

// Client builds a standard *http.Client backed by go-retryablehttp.
// Retry attempts are logged at debug level when logger is non-nil.
func (p RetryPolicy) Client(logger logrus.FieldLogger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = p.Max
	if p.WaitMin > 0 {
		rc.RetryWaitMin = p.WaitMin
	}
	if p.WaitMax > 0 {
		rc.RetryWaitMax = p.WaitMax
	}
	if p.Timeout > 0 {
		rc.HTTPClient.Timeout = p.Timeout
	}
	rc.Logger = nil
	// hand the final response back so postJSON can report status and body
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if logger != nil {
		rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				logger.WithField("url", req.URL.Redacted()).WithField("attempt", attempt).Debug("retrying embedding request")
			}
		}
	}
	return rc.StandardClient()
}

// postJSON sends body as JSON and decodes a 200 response into out.
// Non-200 responses are reported with the first 200 bytes of the body.
func postJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s embed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s embed %d: %s", provider, resp.StatusCode, string(msg[:min(len(msg), 200)]))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// toVector converts an API float64 embedding to the compact float32 form.
func toVector(provider string, values []float64) ([]float32, error) {
	if len(values) == 0 {
		return nil, errEmptyEmbedding(provider)
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v)
	}
	return vec, nil
}

func errEmptyEmbedding(provider string) error {
	return fmt.Errorf("%s: empty embedding returned", provider)
}
