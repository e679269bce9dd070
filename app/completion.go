package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Run states reported by the completion provider.
const (
	RunQueued     = "queued"
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunFailed     = "failed"
	RunExpired    = "expired"
	RunCancelled  = "cancelled"
)

// CompletionAPI is the slice of the external completion service the
// orchestrator consumes. The HTTP client below is the production
// implementation; tests substitute fakes.
type CompletionAPI interface {
	CreateConversation(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, conversationID, text, fileID string) error
	StartRun(ctx context.Context, conversationID string) (string, error)
	GetRun(ctx context.Context, conversationID, runID string) (string, error)
	LatestAssistantText(ctx context.Context, conversationID string) (string, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	UploadDocument(ctx context.Context, filename string, data []byte) (string, error)
}

// CompletionClient talks to an assistants-style completion API.
type CompletionClient struct {
	BaseURL     string
	APIKey      string
	AssistantID string
	HTTPClient  *http.Client
}

func NewCompletionClient(baseURL, apiKey, assistantID string) *CompletionClient {
	return &CompletionClient{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		AssistantID: assistantID,
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

type apiError struct {
	Status int
	Body   string
}

func (e apiError) Error() string { return fmt.Sprintf("completion api http %d: %s", e.Status, e.Body) }

func (c *CompletionClient) CreateConversation(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/threads", map[string]any{}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("completion api returned empty conversation id")
	}
	return out.ID, nil
}

func (c *CompletionClient) AppendMessage(ctx context.Context, conversationID, text, fileID string) error {
	body := map[string]any{
		"role":    "user",
		"content": text,
	}
	if fileID != "" {
		body["attachments"] = []map[string]any{{"file_id": fileID}}
	}
	path := fmt.Sprintf("/v1/threads/%s/messages", conversationID)
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

func (c *CompletionClient) StartRun(ctx context.Context, conversationID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/v1/threads/%s/runs", conversationID)
	body := map[string]any{"assistant_id": c.AssistantID}
	if err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("completion api returned empty run id")
	}
	return out.ID, nil
}

func (c *CompletionClient) GetRun(ctx context.Context, conversationID, runID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/v1/threads/%s/runs/%s", conversationID, runID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// LatestAssistantText concatenates the newest assistant message's text
// segments in document order, newline-joined. Empty string when the
// conversation has no assistant message yet.
func (c *CompletionClient) LatestAssistantText(ctx context.Context, conversationID string) (string, error) {
	var out struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/v1/threads/%s/messages?order=desc&limit=10", conversationID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	for _, msg := range out.Data {
		if msg.Role != "assistant" {
			continue
		}
		var buf bytes.Buffer
		for _, seg := range msg.Content {
			if seg.Type != "text" || seg.Text.Value == "" {
				continue
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(seg.Text.Value)
		}
		return buf.String(), nil
	}
	return "", nil
}

func (c *CompletionClient) DeleteConversation(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/v1/threads/%s", conversationID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (c *CompletionClient) UploadDocument(ctx context.Context, filename string, data []byte) (string, error) {
	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	if err := w.WriteField("purpose", "assistants"); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/files", &form)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", readAPIError(res)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// doJSON performs one JSON round trip with a basic retry on 429/5xx,
// matching the provider's published guidance.
func (c *CompletionClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var last error
	for attempt := 0; attempt < 3; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)

		res, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}

		if res.StatusCode == http.StatusOK {
			var decodeErr error
			if out != nil {
				decodeErr = json.NewDecoder(res.Body).Decode(out)
			}
			res.Body.Close()
			return decodeErr
		}

		last = readAPIError(res)
		res.Body.Close()

		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(250*(attempt+1)) * time.Millisecond):
			}
			continue
		}
		break
	}
	return last
}

func (c *CompletionClient) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func readAPIError(res *http.Response) error {
	var msg struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(res.Body).Decode(&msg)
	return apiError{Status: res.StatusCode, Body: msg.Error.Message}
}
