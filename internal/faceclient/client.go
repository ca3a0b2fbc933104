package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Typed failures so handlers can distinguish a slow embedding service from
// a dead one, and either from "no face in frame".
var (
	ErrUnavailable = errors.New("face service unavailable")
	ErrTimeout     = errors.New("face service timeout")
	ErrNoFace      = errors.New("no face detected in image")
)

// Client calls the face embedding microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Face processing can take a while, so the client
// timeout is generous; callers bound individual requests via ctx.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Embed posts a base64-encoded image and returns its face embedding.
func (c *Client) Embed(ctx context.Context, imageBase64 string) ([]float32, error) {
	if c.Skip {
		mock := make([]float32, 512)
		for i := range mock {
			mock[i] = 0.01
		}
		return mock, nil
	}
	if imageBase64 == "" {
		return nil, fmt.Errorf("image required")
	}

	body, _ := json.Marshal(map[string]string{"image_base64": imageBase64})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/embedding", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, string(bodyBytes))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, ErrNoFace
	}
	return out.Embedding, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	return nil
}
