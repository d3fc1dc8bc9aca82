package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	tlsutil "github.com/sireskandari/Aransite/pkg/tls"
)

var httpClient *http.Client

func apiClient() (*http.Client, error) {
	if httpClient != nil {
		return httpClient, nil
	}
	tlsCfg, err := tlsutil.LoadClientConfig(v.GetString("client.ca_file"))
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	httpClient = &http.Client{Timeout: 30 * time.Second, Transport: transport}
	return httpClient, nil
}

// apiError is returned for any non-2xx response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

// doJSON sends in (when non-nil) as JSON and decodes a 2xx response into out
// (when non-nil). The decoded body is also returned for 503 generate
// responses, which carry the job id.
func doJSON(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, serverURL()+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	client, err := apiClient()
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to timelapsed API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if out != nil && len(data) > 0 && (ok || resp.StatusCode == http.StatusServiceUnavailable) {
		if err := json.Unmarshal(data, out); err != nil && ok {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	if !ok {
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	return resp.StatusCode, nil
}
