// Package summary holds the external summarizer client and the
// Redis-backed job queue that can replace the in-process worker.
package summary

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/goccy/go-json"
)

// maxResponse caps how much of a summarizer reply is read.
const maxResponse = 1 << 20

type HTTPSummarizer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

var _ app.Summarizer = (*HTTPSummarizer)(nil)

func NewHTTPSummarizer(endpoint, apiKey string, timeout time.Duration) *HTTPSummarizer {
	return &HTTPSummarizer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// Summarize posts the transcript as JSON and expects {"summary": "..."}.
func (s *HTTPSummarizer) Summarize(ctx context.Context, req app.SummaryRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode summary request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build summary request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call summarizer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return "", fmt.Errorf("read summarizer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarizer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out summaryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode summarizer response: %w", err)
	}
	text := strings.TrimSpace(out.Summary)
	if text == "" {
		return "", fmt.Errorf("summarizer returned an empty summary")
	}
	return text, nil
}
