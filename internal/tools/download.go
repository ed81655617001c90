package tools

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// FileDownloadTool fetches a URL to a local file.
type FileDownloadTool struct {
	client *http.Client
}

// NewFileDownloadTool creates the download tool.
func NewFileDownloadTool() *FileDownloadTool {
	return &FileDownloadTool{client: &http.Client{Timeout: 10 * time.Minute}}
}

func (t *FileDownloadTool) Name() string { return "FileDownloadTool" }
func (t *FileDownloadTool) Init() error  { return nil }

func (t *FileDownloadTool) Context() string {
	return `Download a URL to a local file.
Operations:
  download {url, filepath} -> {filepath, bytes}`
}

func (t *FileDownloadTool) Run(ctx context.Context, args map[string]any) Result {
	if missing := Require(args, "url", "filepath"); missing != "" {
		return Fail("FileDownloadTool: %s is required", missing)
	}
	src := GetString(args, "url", "")
	dst := GetString(args, "filepath", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Fail("FileDownloadTool: %v", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Fail("FileDownloadTool: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail("FileDownloadTool: %s returned status %d", src, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Fail("FileDownloadTool: %v", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return Fail("FileDownloadTool: %v", err)
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return Fail("FileDownloadTool: write %s: %v", dst, err)
	}
	return OK(map[string]any{"filepath": dst, "bytes": n, "contentType": resp.Header.Get("Content-Type")})
}
