// Package upload posts captured frames to an external webhook as a
// multipart form, matching the receiver's expected "pic" field.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const fieldName = "pic"

// Client posts frames to a single webhook URL.
type Client struct {
	url  string
	http *http.Client
}

// NewClient builds a client for the webhook at url. A nil httpClient uses
// http.DefaultClient.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

// Send uploads one frame under the given filename and returns the webhook's
// response body. Non-2xx statuses are errors.
func (c *Client) Send(ctx context.Context, filename string, frame []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload frame: %w", err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload rejected: status %d: %s", resp.StatusCode, text)
	}
	return string(text), nil
}
