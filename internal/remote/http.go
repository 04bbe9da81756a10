package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPCaller executes commands against the backend's command endpoint:
// POST {base}/commands with {"command": ..., "args": ...}. Error responses
// carry the wire shape {code, message, details?}.
type HTTPCaller struct {
	base   string
	client *http.Client
}

func NewHTTPCaller(base string, timeout time.Duration) *HTTPCaller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCaller{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
}

type commandReq struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args"`
}

func (c *HTTPCaller) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(commandReq{Command: command, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/commands", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var p wirePayload
		if json.Unmarshal(respBody, &p) == nil && (p.Code != "" || p.Message != "") {
			return nil, ClassifyWire(p.Code, p.Message, p.Details)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}
