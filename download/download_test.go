package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zikzikkh/myred/resolve"
)

func mediaServer(t *testing.T, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if requests != nil && r.Method == http.MethodGet {
			requests.Add(1)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, ".jpg"), strings.HasSuffix(r.URL.Path, ".jpeg"):
			w.Header().Set("Content-Type", "image/jpeg")
			fmt.Fprint(w, "jpeg-bytes")
		case strings.HasSuffix(r.URL.Path, ".png"):
			w.Header().Set("Content-Type", "image/png")
			fmt.Fprint(w, "png-bytes")
		case strings.HasSuffix(r.URL.Path, ".mp4"):
			w.Header().Set("Content-Type", "video/mp4")
			fmt.Fprint(w, "mp4-bytes")
		case strings.HasSuffix(r.URL.Path, ".html"):
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html>not media</html>")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestDownloadAllWritesSequencedFiles(t *testing.T) {
	t.Parallel()
	server := mediaServer(t, nil)
	root := t.TempDir()

	d := New(root, server.Client())
	urls := []string{
		server.URL + "/i.redd.it/a.jpg?x=1&amp;y=2",
		server.URL + "/i.redd.it/b.png",
	}
	d.DownloadAll(context.Background(), "pics", "post1", urls)

	dir := filepath.Join(root, "pics", "images", "post1")
	assert.FileExists(t, filepath.Join(dir, "image_1.jpg"))
	assert.FileExists(t, filepath.Join(dir, "image_2.png"))

	saved, _, failed := d.Progress()
	assert.EqualValues(t, 2, saved)
	assert.EqualValues(t, 0, failed)
}

func TestDownloadAllIdempotent(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	server := mediaServer(t, &requests)
	root := t.TempDir()

	d := New(root, server.Client())
	urls := []string{server.URL + "/i.redd.it/a.jpg"}

	d.DownloadAll(context.Background(), "pics", "post1", urls)
	require.EqualValues(t, 1, requests.Load())

	d.DownloadAll(context.Background(), "pics", "post1", urls)
	assert.EqualValues(t, 1, requests.Load(), "second run must make zero network calls")

	_, skipped, _ := d.Progress()
	assert.EqualValues(t, 1, skipped)
}

func TestDownloadAllSkipsUnsupportedURL(t *testing.T) {
	t.Parallel()
	var requests atomic.Int64
	server := mediaServer(t, &requests)
	root := t.TempDir()

	d := New(root, server.Client())
	urls := []string{
		server.URL + "/weird/file.bmp",
		server.URL + "/i.redd.it/fine.jpg",
	}
	d.DownloadAll(context.Background(), "pics", "post1", urls)

	dir := filepath.Join(root, "pics", "images", "post1")
	assert.FileExists(t, filepath.Join(dir, "image_2.jpg"), "sibling download proceeds unaffected")
	assert.NoFileExists(t, filepath.Join(dir, "image_1.jpg"))
	assert.EqualValues(t, 1, requests.Load(), "the unsupported url is skipped before any request")
}

func TestDownloadAllRejectsWrongContentType(t *testing.T) {
	t.Parallel()
	server := mediaServer(t, nil)
	root := t.TempDir()

	d := New(root, server.Client())
	// Looks like an image by extension but the server answers html.
	d.DownloadAll(context.Background(), "pics", "post1", []string{server.URL + "/i.redd.it/fake.html"})

	entries, err := os.ReadDir(filepath.Join(root, "pics", "images", "post1"))
	require.NoError(t, err)
	assert.Empty(t, entries, "mismatched content type must not produce a file")

	_, _, failed := d.Progress()
	assert.EqualValues(t, 1, failed)
}

func TestDownloadAllResolvesRedditVideo(t *testing.T) {
	t.Parallel()
	var probes atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/abc123/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			probes.Add(1)
			if strings.HasSuffix(r.URL.Path, "DASH_1080.mp4") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", "500000")
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		fmt.Fprint(w, "dash-bytes")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	root := t.TempDir()
	resolver := resolve.New(server.Client()).WithVRedditBase(server.URL)
	d := New(root, server.Client()).WithResolver(resolver)

	d.DownloadAll(context.Background(), "videos", "post1", []string{"https://v.redd.it/abc123"})

	assert.FileExists(t, filepath.Join(root, "videos", "images", "post1", "video_1.mp4"))
	assert.EqualValues(t, 2, probes.Load(), "no further probes after the first success")
}

func TestDownloadAllResolverMissSkips(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	root := t.TempDir()
	resolver := resolve.New(server.Client()).
		WithVRedditBase(server.URL).
		WithRedditBase(server.URL)
	d := New(root, server.Client()).WithResolver(resolver)

	d.DownloadAll(context.Background(), "videos", "post1", []string{"https://v.redd.it/gone"})

	entries, err := os.ReadDir(filepath.Join(root, "videos", "images", "post1"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, _, failed := d.Progress()
	assert.EqualValues(t, 1, failed)
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url     string
		ext     string
		isVideo bool
	}{
		{"https://x/clip.mp4?a=1", "mp4", true},
		{"https://x/clip.WEBM", "webm", true},
		{"https://x/pic.gif", "gif", false},
		{"https://x/pic.webp", "webp", false},
		{"https://x/pic.png", "png", false},
		{"https://x/pic.jpg", "jpg", false},
		{"https://x/pic.jpeg", "jpeg", false},
		{"https://x/pic?format=pjpg&s=1", "jpg", false},
		{"https://x/pic?format=png&s=1", "png", false},
		{"https://x/whatever", "jpg", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			ext, isVideo := extensionFor(tt.url)
			assert.Equal(t, tt.ext, ext)
			assert.Equal(t, tt.isVideo, isVideo)
		})
	}
}
