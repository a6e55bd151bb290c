package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleSpeechURL    = "https://speech.googleapis.com"
	googleCloudScope   = "https://www.googleapis.com/auth/cloud-platform"
	googleAPIVersion   = "v1p1beta1"
	maxResponsePreview = 500
)

// GoogleRecognizer runs long-running recognition through the Google Cloud Speech-to-Text REST API
type GoogleRecognizer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// isGoogleAPIKey reports whether keyData looks like an API key (39 chars, starts with "AIzaSy")
func isGoogleAPIKey(keyData string) bool {
	return len(keyData) == 39 && strings.HasPrefix(keyData, "AIzaSy")
}

// NewGoogleRecognizer creates a Google recognizer.
// keyData can be either:
//   - An API key (39 characters, typically starts with "AIzaSy")
//   - A file path to a JSON key file (e.g., "./keys/google-service-account.json")
//   - A JSON string containing the service account credentials
//   - Empty, to use application default credentials
func NewGoogleRecognizer(ctx context.Context, keyData string) (*GoogleRecognizer, error) {
	keyData = strings.TrimSpace(keyData)

	if isGoogleAPIKey(keyData) {
		log.Printf("[Google STT] Using API key authentication")
		return &GoogleRecognizer{
			baseURL:    googleSpeechURL,
			apiKey:     keyData,
			httpClient: &http.Client{Timeout: 90 * time.Second},
		}, nil
	}

	var creds *google.Credentials
	var err error

	switch {
	case keyData == "":
		creds, err = google.FindDefaultCredentials(ctx, googleCloudScope)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w. Please set GOOGLE_STT_KEY_FILE", err)
		}
	case strings.HasPrefix(keyData, "{"):
		log.Printf("[Google STT] Using JSON credentials from environment variable")
		creds, err = google.CredentialsFromJSON(ctx, []byte(keyData), googleCloudScope)
		if err != nil {
			return nil, fmt.Errorf("failed to create credentials from JSON: %w", err)
		}
	default:
		log.Printf("[Google STT] Reading key file: %s", keyData)
		jsonData, err := os.ReadFile(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file '%s': %w", keyData, err)
		}
		creds, err = google.CredentialsFromJSON(ctx, jsonData, googleCloudScope)
		if err != nil {
			return nil, fmt.Errorf("failed to create credentials from JSON: %w", err)
		}
	}

	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = 90 * time.Second

	return &GoogleRecognizer{
		baseURL:    googleSpeechURL,
		httpClient: client,
	}, nil
}

// Name returns the provider name
func (g *GoogleRecognizer) Name() string {
	return "google"
}

// googleOperation is the wire shape of a long-running operation
type googleOperation struct {
	Name     string            `json:"name"`
	Metadata OperationMetadata `json:"metadata"`
	Done     bool              `json:"done"`
	Error    *OperationError   `json:"error,omitempty"`
	Response *struct {
		Results []map[string]any `json:"results"`
	} `json:"response,omitempty"`
}

// googleErrorBody is the wire shape of an API error response
type googleErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *GoogleRecognizer) endpoint(path string) string {
	u := fmt.Sprintf("%s/%s/%s", g.baseURL, googleAPIVersion, path)
	if g.apiKey != "" {
		u += "?key=" + url.QueryEscape(g.apiKey)
	}
	return u
}

// do sends a request and decodes a 200 response into out, turning error bodies into *APIError
func (g *GoogleRecognizer) do(req *http.Request, out any) error {
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Printf("[Google STT] HTTP error: %v", err)
		return fmt.Errorf("failed to send request to Google Speech-to-Text: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr googleErrorBody
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
			log.Printf("[Google STT] API error: Code %d, Status %s, Message: %s",
				apiErr.Error.Code, apiErr.Error.Status, apiErr.Error.Message)
			return &APIError{Code: resp.StatusCode, Status: apiErr.Error.Status, Message: apiErr.Error.Message}
		}

		preview := string(body)
		if len(preview) > maxResponsePreview {
			preview = preview[:maxResponsePreview] + "..."
		}
		log.Printf("[Google STT] API error: Status %d, Body: %s", resp.StatusCode, preview)
		return &APIError{Code: resp.StatusCode, Message: preview}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse Google Speech-to-Text response: %w", err)
	}
	return nil
}

// Submit starts a long-running recognize job and returns the operation name
func (g *GoogleRecognizer) Submit(ctx context.Context, params Params) (string, error) {
	reqJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint("speech:longrunningrecognize"), bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	log.Printf("[Google STT] Submitting long-running recognize: audio=%s encoding=%q channels=%d",
		params.Audio.URI, params.Config.Encoding, params.Config.AudioChannelCount)

	var op googleOperation
	if err := g.do(req, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", fmt.Errorf("Google Speech-to-Text accepted the job without an operation name")
	}

	log.Printf("[Google STT] Operation started: %s", op.Name)
	return op.Name, nil
}

// GetOperation polls a long-running job
func (g *GoogleRecognizer) GetOperation(ctx context.Context, name string) (*Operation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint("operations/"+url.PathEscape(name)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var op googleOperation
	if err := g.do(req, &op); err != nil {
		return nil, err
	}

	result := &Operation{
		Name:     op.Name,
		Metadata: op.Metadata,
		Done:     op.Done,
		Error:    op.Error,
	}
	if op.Response != nil {
		result.RawResults = op.Response.Results
	}

	log.Printf("[Google STT] Operation %s: done=%v progress=%d%%", name, op.Done, op.Metadata.ProgressPercent)
	return result, nil
}
