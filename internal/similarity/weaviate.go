package similarity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const analysisClass = "AnalysisEntry"

// WeaviateIndex stores embeddings and payloads in a Weaviate cluster and
// resolves nearest neighbours with a nearVector GraphQL query.
type WeaviateIndex struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewWeaviateIndex constructs a Weaviate-backed index.
func NewWeaviateIndex(endpoint, apiKey string, timeout time.Duration) *WeaviateIndex {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WeaviateIndex{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upsert writes the payload object with its vector.
func (w *WeaviateIndex) Upsert(ctx context.Context, id string, embedding []float32, payload []byte) error {
	if w.endpoint == "" {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"class": analysisClass,
		"properties": map[string]any{
			"fingerprint": id,
			"payload":     base64.StdEncoding.EncodeToString(payload),
		},
		"vector": embedding,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/v1/objects", bytes.NewReader(body))
	if err != nil {
		return err
	}
	w.setHeaders(req)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("weaviate upsert failed: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// Nearest queries for the single closest object above the cosine threshold.
// Weaviate expresses distance as certainty = (1+cosine)/2, so the threshold is
// converted on the way out and the returned score converted back; both
// backends enforce the same raw-cosine bar.
func (w *WeaviateIndex) Nearest(ctx context.Context, embedding []float32, threshold float64) ([]byte, float64, bool, error) {
	if w.endpoint == "" {
		return nil, 0, false, nil
	}

	vector, err := json.Marshal(embedding)
	if err != nil {
		return nil, 0, false, err
	}

	query := fmt.Sprintf(`{
  Get {
    %s(nearVector: {vector: %s, certainty: %.4f}, limit: 1) {
      payload
      _additional { certainty }
    }
  }
}`, analysisClass, vector, (1+threshold)/2)

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, 0, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/v1/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, 0, false, err
	}
	w.setHeaders(req)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, 0, false, fmt.Errorf("weaviate query failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Data struct {
			Get map[string][]struct {
				Payload    string `json:"payload"`
				Additional struct {
					Certainty float64 `json:"certainty"`
				} `json:"_additional"`
			} `json:"Get"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, false, fmt.Errorf("decode weaviate response: %w", err)
	}

	hits := parsed.Data.Get[analysisClass]
	if len(hits) == 0 {
		return nil, 0, false, nil
	}
	payload, err := base64.StdEncoding.DecodeString(hits[0].Payload)
	if err != nil {
		return nil, 0, false, fmt.Errorf("decode payload: %w", err)
	}
	return payload, 2*hits[0].Additional.Certainty - 1, true, nil
}

func (w *WeaviateIndex) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
}
