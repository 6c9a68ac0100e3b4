package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignExcludesKeyAndSortsParams(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "100", "folder": "imports", "api_key": "key"})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=imports&timestamp=100secret")))
	assert.Equal(t, want, got)
}

func TestUploadRaw(t *testing.T) {
	var gotPath, gotFolder, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		gotFolder = r.FormValue("folder")
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		b, _ := io.ReadAll(f)
		gotFile = string(b)
		_, _ = w.Write([]byte(`{"public_id":"imports/abc","secure_url":"https://cdn.example/abc.csv","bytes":9}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "imports")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(100, 0) }

	res, err := c.UploadRaw(context.Background(), []byte("name\nRavi"), "roster.csv")
	require.NoError(t, err)
	assert.Equal(t, "/demo/raw/upload", gotPath)
	assert.Equal(t, "imports", gotFolder)
	assert.Equal(t, "name\nRavi", gotFile)
	assert.Equal(t, "https://cdn.example/abc.csv", res.SecureURL)
}

func TestUploadRawReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.UploadRaw(context.Background(), []byte("x"), "x.csv")
	assert.ErrorContains(t, err, "401")
}
