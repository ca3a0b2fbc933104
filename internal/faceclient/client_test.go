package faceclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embedding", r.URL.Path)

		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "aGVsbG8=", req["image_base64"])

		json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	emb, err := c.Embed(context.Background(), "aGVsbG8=")
	assert.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, emb)
}

func TestEmbed_NoFace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	_, err := c.Embed(context.Background(), "aGVsbG8=")
	assert.ErrorIs(t, err, ErrNoFace)
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	_, err := c.Embed(context.Background(), "aGVsbG8=")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbed_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := New(srv.URL, false)
	_, err := c.Embed(context.Background(), "aGVsbG8=")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbed_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Embed(ctx, "aGVsbG8=")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestEmbed_SkipMode(t *testing.T) {
	c := New("", true)
	emb, err := c.Embed(context.Background(), "")
	assert.NoError(t, err)
	assert.Len(t, emb, 512)
	assert.Equal(t, float32(0.01), emb[0])
}

func TestEmbed_EmptyImage(t *testing.T) {
	c := New("http://localhost:1", false)
	_, err := c.Embed(context.Background(), "")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	assert.NoError(t, c.Health(context.Background()))

	c.Skip = true
	c.BaseURL = "http://localhost:1"
	assert.NoError(t, c.Health(context.Background()))
}
