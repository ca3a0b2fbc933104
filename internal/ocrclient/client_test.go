package ocrclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIDs_Placeholder(t *testing.T) {
	c := New("")
	ids, err := c.ExtractIDs(context.Background(), "list.jpg", []byte{0xff, 0xd8})
	assert.NoError(t, err)
	assert.Equal(t, placeholderIDs, ids)
}

func TestExtractIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		assert.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "list.jpg", header.Filename)

		json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"student_ids": []string{"B21DCAT007", "B22DCPT090"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	ids, err := c.ExtractIDs(context.Background(), "list.jpg", []byte{0xff, 0xd8})
	assert.NoError(t, err)
	assert.Equal(t, []string{"B21DCAT007", "B22DCPT090"}, ids)
}

func TestExtractIDs_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ExtractIDs(context.Background(), "list.jpg", nil)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestExtractIDs_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ocr exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ExtractIDs(context.Background(), "list.jpg", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExtractIDs_Garbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ExtractIDs(context.Background(), "list.jpg", nil)
	assert.ErrorIs(t, err, ErrBadResponse)
}
