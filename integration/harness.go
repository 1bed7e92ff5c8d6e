//go:build integration

// Package integration exercises full client/server round trips in-process:
// a live HTTP image server over one temp directory and the sync engine
// reconciling a second temp directory against it.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/Urpagin/DynamicWallpaper/internal/catalog"
	"github.com/Urpagin/DynamicWallpaper/internal/config"
	"github.com/Urpagin/DynamicWallpaper/internal/imagefile"
	"github.com/Urpagin/DynamicWallpaper/internal/index"
	"github.com/Urpagin/DynamicWallpaper/internal/server"
	"github.com/Urpagin/DynamicWallpaper/internal/sync"
	"github.com/Urpagin/DynamicWallpaper/internal/testutil"
)

// harness wires a live image server and a sync client around temp dirs.
type harness struct {
	t         *testing.T
	ts        *httptest.Server
	imageDir  string
	clientDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	imageDir := t.TempDir()
	assetsDir, err := testutil.AssetsDir()
	if err != nil {
		t.Fatalf("failed to locate assets: %v", err)
	}

	cfg := config.Default()
	cfg.Server.ImageDir = imageDir
	cfg.Server.AssetsDir = assetsDir

	idx, err := index.Build(imageDir, testLogger())
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}

	ts := httptest.NewServer(server.New(cfg, idx, testLogger()).Handler())
	t.Cleanup(ts.Close)

	return &harness{
		t:         t,
		ts:        ts,
		imageDir:  imageDir,
		clientDir: t.TempDir(),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sync runs one reconciliation cycle of the client directory against the
// server.
func (h *harness) sync() error {
	return h.runSync(false)
}

// syncDry computes and logs the plan without touching the client directory.
func (h *harness) syncDry() error {
	return h.runSync(true)
}

func (h *harness) runSync(dryRun bool) error {
	cfg := config.Default()
	cfg.Client.Endpoint = h.ts.URL
	cfg.Client.Directory = h.clientDir
	cfg.Client.Parallel = 4

	client := catalog.NewHTTPClient(h.ts.URL, nil, 10*time.Second)
	engine := sync.NewEngine(cfg, client, testLogger(), dryRun)
	return engine.Run(context.Background())
}

// upload posts content as a multipart form file and returns the response.
func (h *harness) upload(filename string, content []byte) *http.Response {
	h.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("wallpaper", filename)
	if err != nil {
		h.t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		h.t.Fatalf("failed to write form content: %v", err)
	}
	if err := mw.Close(); err != nil {
		h.t.Fatalf("failed to close multipart writer: %v", err)
	}

	resp, err := http.Post(h.ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		h.t.Fatalf("upload request failed: %v", err)
	}
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) mustUpload(filename string, content []byte) {
	h.t.Helper()

	resp := h.upload(filename, content)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		h.t.Fatalf("upload of %s: expected 200, got %d: %s", filename, resp.StatusCode, body)
	}
}

// deleteImage removes a stored image through the HTTP API.
func (h *harness) deleteImage(name string) {
	h.t.Helper()

	req, err := http.NewRequest(http.MethodDelete, h.ts.URL+"/delete/"+url.PathEscape(name), nil)
	if err != nil {
		h.t.Fatalf("failed to build delete request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("delete request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("delete of %s: expected 200, got %d", name, resp.StatusCode)
	}
}

// listImages fetches the catalog from the server.
func (h *harness) listImages() []string {
	h.t.Helper()

	resp, err := http.Get(h.ts.URL + "/images")
	if err != nil {
		h.t.Fatalf("catalog request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("catalog request: expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Images []string `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		h.t.Fatalf("failed to decode catalog: %v", err)
	}
	return payload.Images
}

// clientFiles lists the non-hidden files currently in the client directory.
func (h *harness) clientFiles() []string {
	h.t.Helper()

	names, err := imagefile.ListDir(h.clientDir)
	if err != nil {
		h.t.Fatalf("failed to list client directory: %v", err)
	}
	return names
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
