// Package signal talks to the upstream intelligence data API and provides the
// built-in worker set that turns its responses into analysis outcomes.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Fact is a discrete qualitative statement about a subject.
type Fact struct {
	Topic      string  `json:"topic"`
	Statement  string  `json:"statement"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Client wraps the signals API used by the collection workers.
type Client struct {
	baseURL     string
	metricsPath string
	factsPath   string
	httpClient  *http.Client
}

// NewClient constructs a client targeting the configured signals instance.
func NewClient(baseURL, metricsPath, factsPath string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		metricsPath: metricsPath,
		factsPath:   factsPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchMetrics queries the signals API for the subject's current metric values.
func (c *Client) FetchMetrics(ctx context.Context, subjectID, scope string) (map[string]float64, error) {
	if c == nil {
		return nil, fmt.Errorf("signals client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("signals base URL not configured")
	}

	payload := map[string]interface{}{
		"subject_id": subjectID,
		"scope":      scope,
		"as_of":      time.Now().UTC().Format(time.RFC3339),
	}

	var response struct {
		Metrics []struct {
			Name  string  `json:"name"`
			Value float64 `json:"value"`
		} `json:"metrics"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.metricsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("signals metrics request failed: %w", err)
	}

	metrics := make(map[string]float64, len(response.Metrics))
	for _, m := range response.Metrics {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		metrics[m.Name] = m.Value
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("signals metrics returned no samples")
	}
	return metrics, nil
}

// FetchFacts queries the signals API for qualitative statements about the
// subject within the requested scope.
func (c *Client) FetchFacts(ctx context.Context, subjectID, scope string) ([]Fact, error) {
	if c == nil {
		return nil, fmt.Errorf("signals client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("signals base URL not configured")
	}

	payload := map[string]interface{}{
		"subject_id": subjectID,
		"scope":      scope,
	}

	var response struct {
		Facts []Fact `json:"facts"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.factsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("signals facts request failed: %w", err)
	}
	if len(response.Facts) == 0 {
		return nil, fmt.Errorf("signals facts returned no entries")
	}
	return response.Facts, nil
}

func (c *Client) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signals API returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
