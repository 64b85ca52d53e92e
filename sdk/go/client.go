package fieldsyncsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal FieldSync HTTP API client: the disconnected
// device's side of the offline protocol.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// WorkItem is the API work item model (partial).
type WorkItem struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	Priority     string  `json:"priority,omitempty"`
	AssignedTo   *string `json:"assigned_to,omitempty"`
	DueDate      *string `json:"due_date,omitempty"`
	TemplateName string  `json:"template_name,omitempty"`
}

type AvailableList struct {
	WorkItems []WorkItem `json:"work_items"`
	Count     int        `json:"count"`
}

// DownloadRequest selects one chunk of the offline package.
type DownloadRequest struct {
	WorkItemIDs        []string `json:"workItemIds"`
	IncludeTemplates   bool     `json:"includeTemplates"`
	IncludeAttachments bool     `json:"includeAttachments"`
	Offset             *int     `json:"offset,omitempty"`
	Limit              *int     `json:"limit,omitempty"`
}

type DownloadMetadata struct {
	TotalRequested int  `json:"total_requested"`
	CurrentBatch   int  `json:"current_batch"`
	TotalBatches   int  `json:"total_batches"`
	Offset         int  `json:"offset"`
	Limit          int  `json:"limit"`
	Returned       int  `json:"returned"`
	HasMore        bool `json:"has_more"`
}

// DownloadPackage is the self-contained offline bundle. Templates and
// execution states stay raw; the device schema evolves independently.
type DownloadPackage struct {
	WorkItems       []WorkItem        `json:"work_items"`
	Templates       []json.RawMessage `json:"templates"`
	ExecutionStates []json.RawMessage `json:"execution_states"`
	Metadata        DownloadMetadata  `json:"metadata"`
}

// SyncUpdate is one queued offline mutation.
type SyncUpdate struct {
	Type     string `json:"type"`
	EntityID string `json:"entityId"`
	Data     any    `json:"data"`
}

type SyncResult struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type SyncConflict struct {
	EntityID string `json:"entityId"`
	Type     string `json:"type"`
	Error    string `json:"error"`
}

type SyncResponse struct {
	Results   []SyncResult   `json:"results"`
	Conflicts []SyncConflict `json:"conflicts"`
	NewData   struct {
		WorkItems []WorkItem        `json:"work_items"`
		Templates []json.RawMessage `json:"templates"`
	} `json:"new_data"`
}

type UploadResult struct {
	ID          string `json:"id"`
	StoragePath string `json:"storage_path,omitempty"`
	Duplicate   bool   `json:"duplicate"`
}

type SyncLogEntry struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	Outcome    string `json:"outcome"`
	Total      int    `json:"total"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type SyncLogPage struct {
	Entries    []SyncLogEntry `json:"entries"`
	NextCursor int64          `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListAvailable returns the caller's downloadable work items.
func (c *Client) ListAvailable(ctx context.Context, scopes, statuses []string, dateRange string, templateIDs []string) (AvailableList, error) {
	q := url.Values{}
	for _, s := range scopes {
		q.Add("assignedTo", s)
	}
	for _, s := range statuses {
		q.Add("status", s)
	}
	if dateRange != "" {
		q.Set("dateRange", dateRange)
	}
	for _, t := range templateIDs {
		q.Add("templateIds", t)
	}
	endpoint := "v1/work-items/available"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp AvailableList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Download fetches one chunk of the offline package.
func (c *Client) Download(ctx context.Context, req DownloadRequest) (DownloadPackage, error) {
	var resp DownloadPackage
	err := c.do(ctx, http.MethodPost, "v1/offline/download", req, &resp)
	return resp, err
}

// Sync pushes a batch of offline updates.
func (c *Client) Sync(ctx context.Context, updates []SyncUpdate) (SyncResponse, error) {
	body := map[string]any{"updates": updates}
	var resp SyncResponse
	err := c.do(ctx, http.MethodPost, "v1/offline/sync", body, &resp)
	return resp, err
}

// UploadPhoto sends a photo for one step.
func (c *Client) UploadPhoto(ctx context.Context, workItemID string, stepIndex int, fileName, mimeType string, data []byte) (UploadResult, error) {
	return c.upload(ctx, "v1/offline/photos", workItemID, stepIndex, fileName, mimeType, data, 0)
}

// UploadAudio sends an audio recording for one step.
func (c *Client) UploadAudio(ctx context.Context, workItemID string, stepIndex int, fileName, mimeType string, data []byte, duration float64) (UploadResult, error) {
	return c.upload(ctx, "v1/offline/audio", workItemID, stepIndex, fileName, mimeType, data, duration)
}

// DeletePhoto removes one photo entry by index.
func (c *Client) DeletePhoto(ctx context.Context, workItemID string, stepIndex, photoIndex int) error {
	body := map[string]any{
		"workItemId": workItemID,
		"stepId":     stepIndex,
		"photoIndex": photoIndex,
	}
	return c.do(ctx, http.MethodPost, "v1/offline/photos/delete", body, nil)
}

// SyncLogs pages through the caller's sync history.
func (c *Client) SyncLogs(ctx context.Context, limit int, cursor int64) (SyncLogPage, error) {
	endpoint := "v1/offline/sync-logs"
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp SyncLogPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) upload(ctx context.Context, endpoint, workItemID string, stepIndex int, fileName, mimeType string, data []byte, duration float64) (UploadResult, error) {
	var resp UploadResult
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("workItemId", workItemID); err != nil {
		return resp, err
	}
	if err := mw.WriteField("stepId", strconv.Itoa(stepIndex)); err != nil {
		return resp, err
	}
	if duration > 0 {
		if err := mw.WriteField("duration", strconv.FormatFloat(duration, 'f', -1, 64)); err != nil {
			return resp, err
		}
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return resp, err
	}
	if _, err := part.Write(data); err != nil {
		return resp, err
	}
	if err := mw.Close(); err != nil {
		return resp, err
	}

	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/"+endpoint, &buf)
	if err != nil {
		return resp, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setAuth(req)
	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return resp, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(httpResp.Body)
		return resp, &APIError{StatusCode: httpResp.StatusCode, Body: string(b)}
	}
	return resp, json.NewDecoder(httpResp.Body).Decode(&resp)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
