package orchestrator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Item types for persistent context.
const (
	ItemFile  = "file"
	ItemImage = "image"
)

// ContextItem is one persistent entry attached to every prompt. Files
// are re-read on each prompt; images are loaded once per prompt and
// attached as base64.
type ContextItem struct {
	Type    string    `json:"type"`
	Path    string    `json:"path"`
	AddedAt time.Time `json:"added_at"`
	AddedBy string    `json:"added_by"`
}

// ContextItems manages the persistent context list backed by
// context.json.
type ContextItems struct {
	mu    sync.Mutex
	path  string
	items []ContextItem
}

// LoadContextItems reads the context file; a missing file is an empty
// list.
func LoadContextItems(path string) (*ContextItems, error) {
	c := &ContextItems{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read context items: %w", err)
	}
	if err := json.Unmarshal(data, &c.items); err != nil {
		return nil, fmt.Errorf("decode context items: %w", err)
	}
	return c, nil
}

func (c *ContextItems) save() error {
	data, err := json.MarshalIndent(c.items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode context items: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("write context items: %w", err)
	}
	return nil
}

// Add appends an item after checking the path exists on disk.
func (c *ContextItems) Add(itemType, path, addedBy string) error {
	if itemType != ItemFile && itemType != ItemImage {
		return fmt.Errorf("context item type must be file or image, got %q", itemType)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("context item path: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, ContextItem{
		Type:    itemType,
		Path:    path,
		AddedAt: time.Now().UTC(),
		AddedBy: addedBy,
	})
	return c.save()
}

// Remove deletes the item at the given 1-based index.
func (c *ContextItems) Remove(index int) (ContextItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 1 || index > len(c.items) {
		return ContextItem{}, fmt.Errorf("context item index %d out of range 1..%d", index, len(c.items))
	}
	removed := c.items[index-1]
	c.items = append(c.items[:index-1], c.items[index:]...)
	return removed, c.save()
}

// List returns a snapshot of the items.
func (c *ContextItems) List() []ContextItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ContextItem, len(c.items))
	copy(out, c.items)
	return out
}

// Clear removes every item.
func (c *ContextItems) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	return c.save()
}

// FilesBlock reads every file item fresh and wraps each in a
// <file path="…"> element. Unreadable files degrade to an error note
// inside the element rather than failing the prompt.
func (c *ContextItems) FilesBlock() string {
	var b strings.Builder
	for _, item := range c.List() {
		if item.Type != ItemFile {
			continue
		}
		b.WriteString(fmt.Sprintf("<file path=%q>\n", item.Path))
		data, err := os.ReadFile(item.Path)
		if err != nil {
			b.WriteString(fmt.Sprintf("(unreadable: %v)\n", err))
		} else {
			b.Write(data)
			if len(data) > 0 && data[len(data)-1] != '\n' {
				b.WriteByte('\n')
			}
		}
		b.WriteString("</file>\n")
	}
	return b.String()
}

// Images loads every image item as base64, once per call.
func (c *ContextItems) Images() []string {
	var out []string
	for _, item := range c.List() {
		if item.Type != ItemImage {
			continue
		}
		encoded, err := LoadImage(item.Path)
		if err != nil {
			continue
		}
		out = append(out, encoded)
	}
	return out
}

// LoadImage reads an image from a URL or a local path and returns it
// base64-encoded.
func LoadImage(source string) (string, error) {
	var data []byte
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return "", fmt.Errorf("fetch image %s: %w", source, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetch image %s: status %d", source, resp.StatusCode)
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return "", fmt.Errorf("read image %s: %w", source, err)
		}
	} else {
		var err error
		data, err = os.ReadFile(source)
		if err != nil {
			return "", fmt.Errorf("read image %s: %w", source, err)
		}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
