package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{Endpoint: "localhost"})
	assert.Error(t, err)

	c, err := NewClient(ClientConfig{Endpoint: "http://localhost:8080"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/", c.BaseURL())

	c, err = NewClient(ClientConfig{Endpoint: "http://localhost:8080/", Version: "/v2"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v2/", c.BaseURL())
}

func TestClientPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/app/register/", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("APIKEY"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1234", body["assetId"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"abc-1"}`))
	}))
	defer server.Close()

	c, err := NewClient(ClientConfig{Endpoint: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	var result struct {
		ID string `json:"id"`
	}
	err = c.PostJSON(context.Background(), "app/register/", map[string]interface{}{"assetId": "1234"}, &result)
	require.NoError(t, err)
	assert.Equal(t, "abc-1", result.ID)
}

func TestClientPostMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Foo", r.FormValue("name"))

		f, header, err := r.FormFile("file_0")
		require.NoError(t, err)
		defer f.Close()
		content, _ := io.ReadAll(f)
		assert.Equal(t, "text.txt", header.Filename)
		assert.Equal(t, "hello", string(content))

		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c, err := NewClient(ClientConfig{Endpoint: server.URL})
	require.NoError(t, err)

	var raw string
	err = c.PostMultipart(context.Background(), "app/upload/",
		map[string]string{"name": "Foo"},
		[]File{{Field: "file_0", Name: "text.txt", MimeType: "text/plain", Content: []byte("hello")}},
		&raw)
	require.NoError(t, err)
	assert.Equal(t, "ok", raw)
}

func TestClientGetNoCacheAndAbsoluteURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "no-cache", r.Header.Get("pragma"))
		assert.Equal(t, "no-cache", r.Header.Get("cache-control"))
		assert.Equal(t, "/v1/app/transaction/", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		w.Write([]byte(`{"count":0}`))
	}))
	defer server.Close()

	c, err := NewClient(ClientConfig{Endpoint: server.URL})
	require.NoError(t, err)

	var page struct {
		Count int `json:"count"`
	}
	err = c.Get(context.Background(), server.URL+"/v1/app/transaction/?page=2", &page)
	assert.NoError(t, err)
}

func TestClientErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"nonce too low","error_code":"15001","extra_detail":{"nonce":9}}`))
	}))
	defer server.Close()

	c, err := NewClient(ClientConfig{Endpoint: server.URL})
	require.NoError(t, err)

	err = c.PostJSON(context.Background(), "app/transaction/abc/", map[string]string{"payload": "0x"}, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.True(t, httpErr.IsConflict())
	assert.Equal(t, json.Number("9"), httpErr.Extra["nonce"])
}

func TestClientContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c, err := NewClient(ClientConfig{Endpoint: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = c.Get(ctx, "app/transaction/abc", nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClientGetStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("APIKEY"))
		if r.URL.Path == "/v1/app/missing" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("raw-bytes"))
	}))
	defer server.Close()

	c, err := NewClient(ClientConfig{Endpoint: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := c.GetStream(context.Background(), "app/bundle_raw/", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, "raw-bytes", buf.String())

	buf.Reset()
	_, err = c.GetStream(context.Background(), "app/missing", &buf)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, "not found", httpErr.Message)
	assert.Zero(t, buf.Len())
}
