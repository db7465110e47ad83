package fieldsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SubmissionAPI delivers one completed application to the backend. A nil
// error means the remote accepted the submission; a *RemoteError carries
// a structured rejection; anything else is a transport failure.
type SubmissionAPI interface {
	Submit(ctx context.Context, payload json.RawMessage, applicationID, token string) error
}

// RemoteError is a non-2xx response from the submission API. The
// remote-provided message and validation details are preserved verbatim
// so they can be stored on the failed record.
type RemoteError struct {
	StatusCode int
	Message    string
	Details    []string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(e.Details) > 0 {
		return fmt.Sprintf("server returned status %d: %s (%s)", e.StatusCode, msg, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, msg)
}

// HTTPSubmissionClient posts submissions to the backend's
// submit-application endpoint. Each call is a single attempt with a
// bounded timeout; retry policy belongs to the orchestrator's state
// machine, not the transport.
type HTTPSubmissionClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPSubmissionClient(baseURL string, httpClient *http.Client) *HTTPSubmissionClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8090"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSubmissionClient{baseURL: baseURL, httpClient: httpClient}
}

func (c *HTTPSubmissionClient) Submit(ctx context.Context, payload json.RawMessage, applicationID, token string) error {
	if strings.TrimSpace(applicationID) == "" {
		return ErrInvalidInput
	}
	body, err := json.Marshal(map[string]any{
		"applicationData": payload,
		"applicationId":   applicationID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/submit-application", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID(applicationID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payloadBytes, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	if readErr != nil {
		return &RemoteError{StatusCode: resp.StatusCode}
	}
	var errPayload struct {
		Error   string   `json:"error"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	}
	_ = json.Unmarshal(payloadBytes, &errPayload)
	msg := errPayload.Error
	if msg == "" {
		msg = errPayload.Message
	}
	return &RemoteError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Details:    errPayload.Details,
	}
}

func correlationID(applicationID string) string {
	return fmt.Sprintf("sync_%s_%d", applicationID, time.Now().UnixNano())
}
