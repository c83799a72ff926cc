package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ledgerServer mimics the service: every first submission of a
// transaction is rejected with a nonce conflict suggesting nonce+1
func ledgerServer(t *testing.T) *httptest.Server {
	var (
		mu        sync.Mutex
		requested int
		submitted = map[string]bool{}
	)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v1/myapp/")
		mu.Lock()
		defer mu.Unlock()

		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(path, "transaction/"):
			id := strings.Trim(strings.TrimPrefix(path, "transaction/"), "/")
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			tx := decodeTx(t, body["payload"])

			if !submitted[id] && tx.Nonce() == 5 {
				writeJSON(w, http.StatusConflict, `{"error":"nonce too low","error_code":"15001","extra_detail":{"suggested_nonce":6}}`)
				return
			}
			submitted[id] = true
			writeJSON(w, http.StatusOK, `{}`)
		case r.Method == http.MethodPost:
			requested++
			id := fmt.Sprintf("%s-%d", strings.Trim(path, "/"), requested)
			writeJSON(w, http.StatusOK, `{"id":"`+id+`","payload":{"raw":{"nonce":5,"gasPrice":"1","gasLimit":"21000","to":"0x1111111111111111111111111111111111111111"}}}`)
		case r.Method == http.MethodGet:
			id := strings.TrimPrefix(path, "transaction/")
			status := "PENDING"
			if submitted[id] {
				status = "SUBMITTED"
			}
			writeJSON(w, http.StatusOK, `{"id":"`+id+`","status":"`+status+`"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestProcess(t *testing.T) {
	server := ledgerServer(t)
	defer server.Close()

	dir := t.TempDir()
	calls := writeFile(t, dir, "calls.yaml", `
- method: register
  params:
    assetId: "{{index}}"
  repeat: 3
`)
	c := &Config{
		Endpoint:     server.URL,
		App:          "myapp",
		PrivateKey:   testKey,
		MaxAttempts:  3,
		PollInterval: 10 * time.Millisecond,
		TotalWait:    2 * time.Second,
		State:        "SUBMITTED",
		CallsFile:    calls,
		LogPath:      filepath.Join(dir, "simba.log"),
		ReportPath:   filepath.Join(dir, "report.txt"),
	}
	require.NoError(t, c.valid())

	require.NoError(t, Process(context.Background(), c, testLogger()))

	report, err := os.ReadFile(c.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "ALL Calls: 3")
	assert.Contains(t, string(report), "CONFIRMED Calls: 3")
	assert.Contains(t, string(report), "REACHED SUBMITTED: 3")
	assert.Contains(t, string(report), "Nonce Conflicts: 3")
	assert.Contains(t, string(report), "Signed Submissions: 6")
	assert.Contains(t, string(report), "QUEUE Errors: 0")

	logs, err := os.ReadFile(c.LogPath)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(logs), "Enqueued"))
	assert.Equal(t, 3, strings.Count(string(logs), "Confirmed"))
}

func TestProcessInterrupted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the disconnect is only noticed once the body has been read
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	dir := t.TempDir()
	c := &Config{
		Endpoint:   server.URL,
		App:        "myapp",
		PrivateKey: testKey,
		CallsFile:  writeFile(t, dir, "calls.yaml", "- method: register\n  repeat: 5\n"),
		LogPath:    filepath.Join(dir, "simba.log"),
		ReportPath: filepath.Join(dir, "report.txt"),
	}
	require.NoError(t, c.valid())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, Process(ctx, c, testLogger()))
	assert.Less(t, time.Since(start), 5*time.Second)

	report, err := os.ReadFile(c.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "ENQUEUED Calls: 5")
	assert.Contains(t, string(report), "CONFIRMED Calls: 0")
	assert.Contains(t, string(report), "QUEUE Errors: 5")
}

func TestProcessRequiresCalls(t *testing.T) {
	dir := t.TempDir()
	c := &Config{
		Endpoint:  "http://localhost",
		App:       "myapp",
		CallsFile: writeFile(t, dir, "calls.yaml", "[]\n"),
	}
	assert.Error(t, Process(context.Background(), c, testLogger()))
}
