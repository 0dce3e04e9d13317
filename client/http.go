package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// statusError is a non-2xx response from the node.
type statusError struct {
	Method   string
	URL      string
	Code     int
	Message  string `json:"error"`
	VMStatus string `json:"vmStatus"`
}

func (e *statusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Message)
	}

	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
}

// do sends a request and decodes a JSON response into result.
// Non-2xx statuses become *statusError.
func (c *Client) do(ctx context.Context, method, url, contentType string, body []byte, result any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request:\n%w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", method, url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &statusError{Method: method, URL: url, Code: resp.StatusCode}
		json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(se)

		return se
	}

	if result == nil {
		return nil
	}

	if raw, ok := result.(*[]byte); ok {
		*raw, err = io.ReadAll(resp.Body)
		return err
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// httpGet performs a GET request and decodes the JSON response.
func (c *Client) httpGet(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, c.base+path, "", nil, result)
}

// httpPost performs a POST request with a binary body.
func (c *Client) httpPost(ctx context.Context, path string, body []byte, result any) error {
	return c.do(ctx, http.MethodPost, c.base+path, "application/octet-stream", body, result)
}
