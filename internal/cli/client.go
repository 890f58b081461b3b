package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// CheckStatusResponse — ответ на запуск instance.
type CheckStatusResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Created           bool   `json:"created"`
	StatusQueryGetURI string `json:"statusQueryGetUri"`
	HistoryGetURI     string `json:"historyGetUri"`
	TerminatePostURI  string `json:"terminatePostUri"`
}

// InstanceResponse — instance из API.
type InstanceResponse struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Status               string          `json:"status"`
	Input                json.RawMessage `json:"input,omitempty"`
	Output               json.RawMessage `json:"output,omitempty"`
	Error                string          `json:"error,omitempty"`
	Reason               string          `json:"reason,omitempty"`
	ParentID             string          `json:"parent_id,omitempty"`
	TerminationRequested bool            `json:"termination_requested,omitempty"`
	CreatedAt            string          `json:"created_at"`
	LastUpdatedAt        string          `json:"last_updated_at"`
	CompletedAt          string          `json:"completed_at,omitempty"`
}

// HistoryEventResponse — событие истории из API.
type HistoryEventResponse struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TerminateResponse — ответ на terminate.
type TerminateResponse struct {
	Outcome    string `json:"outcome"`
	InstanceID string `json:"instance_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Durable API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Instances ---

// Start запускает orchestration. Пустое имя — orchestration по умолчанию.
func (c *Client) Start(name string, input json.RawMessage, instanceID string) (*CheckStatusResponse, error) {
	path := "/api/v1/run"
	if name != "" {
		path = "/api/v1/orchestrations/" + url.PathEscape(name)
	}
	if instanceID != "" {
		path += "?" + url.Values{"instanceId": {instanceID}}.Encode()
	}

	var body any
	if len(input) > 0 {
		body = input
	}

	var handle CheckStatusResponse
	err := c.post(path, body, &handle)
	return &handle, err
}

// ListInstances возвращает незавершённые instances (поток NDJSON).
func (c *Client) ListInstances() ([]InstanceResponse, error) {
	resp, err := c.do(http.MethodGet, "/api/v1/instances", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	var instances []InstanceResponse
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var inst InstanceResponse
		if err := json.Unmarshal(line, &inst); err != nil {
			return instances, fmt.Errorf("failed to decode instance: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := sc.Err(); err != nil {
		return instances, fmt.Errorf("failed to read response: %w", err)
	}
	return instances, nil
}

// GetInstance возвращает instance по ID.
func (c *Client) GetInstance(id string) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.get("/api/v1/instances/"+url.PathEscape(id), &inst)
	return &inst, err
}

// History возвращает историю instance.
func (c *Client) History(id string) ([]HistoryEventResponse, error) {
	var events []HistoryEventResponse
	err := c.list("/api/v1/instances/"+url.PathEscape(id)+"/history", nil, &events)
	return events, err
}

// Terminate запрашивает остановку instance.
func (c *Client) Terminate(id, reason string) (*TerminateResponse, error) {
	params := url.Values{"instanceId": {id}}
	if reason != "" {
		params.Set("reason", reason)
	}

	var result TerminateResponse
	err := c.post("/api/v1/terminate?"+params.Encode(), nil, &result)
	return &result, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
