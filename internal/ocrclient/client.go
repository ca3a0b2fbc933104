package ocrclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

var (
	ErrUnavailable = errors.New("ocr service unavailable")
	ErrBadResponse = errors.New("ocr service returned malformed response")
)

// placeholderIDs is returned when no OCR endpoint is configured, so the
// image upload path stays demoable without the service.
var placeholderIDs = []string{"B22DCPT090", "B21DCAT007"}

// Client calls the OCR service that reads student codes off a photographed
// class list.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates an OCR client. An empty baseURL disables the service.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// ExtractIDs uploads an image and returns the student codes found in it.
func (c *Client) ExtractIDs(ctx context.Context, filename string, data []byte) ([]string, error) {
	if c.BaseURL == "" {
		return placeholderIDs, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("ocr: create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("ocr: write file: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("ocr: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var out struct {
		Success    bool     `json:"success"`
		StudentIDs []string `json:"student_ids"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !out.Success || out.StudentIDs == nil {
		return nil, ErrBadResponse
	}
	return out.StudentIDs, nil
}
