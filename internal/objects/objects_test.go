package objects

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenshotKey(t *testing.T) {
	key := ScreenshotKey("exec-1", "Login Page.PNG")
	assert.True(t, strings.HasPrefix(key, "executions/exec-1/"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	bare := ScreenshotKey("exec-1", `C:\shots\noext`)
	assert.Equal(t, -1, strings.Index(strings.TrimPrefix(bare, "executions/exec-1/"), "."))

	assert.NotEqual(t, ScreenshotKey("exec-1", "a.png"), ScreenshotKey("exec-1", "a.png"))
}

func TestNewMinioRequiresEndpointAndBucket(t *testing.T) {
	_, err := NewMinio(Config{Bucket: "shots"})
	assert.Error(t, err)
	_, err = NewMinio(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestPresignGetIsOffline(t *testing.T) {
	m, err := NewMinio(Config{Endpoint: "http://localhost:9000", AccessKey: "minioadmin", SecretKey: "minioadmin", Bucket: "shots"})
	require.NoError(t, err)

	u, err := m.PresignGet(context.Background(), "executions/exec-1/a.png", PresignTTL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://localhost:9000/shots/executions/exec-1/a.png?"))
	assert.Contains(t, u, "X-Amz-Expires=3600")
}

func TestPutSendsObjectToBucket(t *testing.T) {
	var (
		mu        sync.Mutex
		gotPath   string
		gotMethod string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		gotMethod, gotPath = r.Method, r.URL.Path
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := NewMinio(Config{Endpoint: srv.URL, AccessKey: "k", SecretKey: "s", Bucket: "shots"})
	require.NoError(t, err)

	payload := []byte("png-bytes")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Put(ctx, "executions/exec-1/a.png", bytes.NewReader(payload), int64(len(payload)), "image/png"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/shots/executions/exec-1/a.png", gotPath)
}
