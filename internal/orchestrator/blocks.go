package orchestrator

import (
	"strings"
)

// Out-of-band block delimiters. Part of the external contract: the
// model is prompted with these markers verbatim, so code payloads never
// pass through JSON escaping.
const (
	fileStartMarker  = "===SKIPPY_FILE_START:"
	fileEndMarker    = "===SKIPPY_FILE_END==="
	patchStartMarker = "===SKIPPY_PATCH_START:"
	patchEndMarker   = "===SKIPPY_PATCH_END==="
	findMarker       = "===FIND==="
	replaceMarker    = "===REPLACE==="
	markerSuffix     = "==="
)

// FileBlock is a verbatim file payload addressed to one path.
type FileBlock struct {
	Path    string
	Content string
}

// PatchChange is one find/replace pair inside a patch block.
type PatchChange struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

// PatchBlock is a set of find/replace edits addressed to one path.
type PatchBlock struct {
	Path    string
	Changes []PatchChange
}

// Blocks holds every out-of-band payload found after the JSON envelope.
type Blocks struct {
	Files   []FileBlock
	Patches []PatchBlock
}

// Empty reports whether no blocks were found.
func (b Blocks) Empty() bool { return len(b.Files) == 0 && len(b.Patches) == 0 }

// FileContent returns the payload for path, falling back to the sole
// block when the action named no path.
func (b Blocks) FileContent(path string) (string, bool) {
	for _, f := range b.Files {
		if f.Path == path {
			return f.Content, true
		}
	}
	if path == "" && len(b.Files) == 1 {
		return b.Files[0].Content, true
	}
	return "", false
}

// PatchChanges returns the changes for path, falling back to the sole
// block when the action named no path.
func (b Blocks) PatchChanges(path string) ([]PatchChange, bool) {
	for _, p := range b.Patches {
		if p.Path == path {
			return p.Changes, true
		}
	}
	if path == "" && len(b.Patches) == 1 {
		return b.Patches[0].Changes, true
	}
	return nil, false
}

// SplitBlocks cuts the raw LLM buffer at the first block delimiter. The
// prefix is the JSON candidate; the suffix is parsed into file and
// patch blocks. Malformed trailing blocks are dropped rather than
// failing the whole response.
func SplitBlocks(raw string) (string, Blocks) {
	fileIdx := strings.Index(raw, fileStartMarker)
	patchIdx := strings.Index(raw, patchStartMarker)

	cut := -1
	switch {
	case fileIdx >= 0 && (patchIdx < 0 || fileIdx < patchIdx):
		cut = fileIdx
	case patchIdx >= 0:
		cut = patchIdx
	}
	if cut < 0 {
		return raw, Blocks{}
	}
	return raw[:cut], parseBlocks(raw[cut:])
}

func parseBlocks(raw string) Blocks {
	var out Blocks
	for len(raw) > 0 {
		fileIdx := strings.Index(raw, fileStartMarker)
		patchIdx := strings.Index(raw, patchStartMarker)
		if fileIdx < 0 && patchIdx < 0 {
			break
		}
		if fileIdx >= 0 && (patchIdx < 0 || fileIdx < patchIdx) {
			block, rest, ok := parseFileBlock(raw[fileIdx:])
			if !ok {
				break
			}
			out.Files = append(out.Files, block)
			raw = rest
			continue
		}
		block, rest, ok := parsePatchBlock(raw[patchIdx:])
		if !ok {
			break
		}
		out.Patches = append(out.Patches, block)
		raw = rest
	}
	return out
}

// parseFileBlock consumes one ===SKIPPY_FILE_START:<path>=== block.
// raw must begin at the start marker.
func parseFileBlock(raw string) (FileBlock, string, bool) {
	path, body, ok := cutHeader(raw, fileStartMarker)
	if !ok {
		return FileBlock{}, "", false
	}
	end := strings.Index(body, fileEndMarker)
	if end < 0 {
		return FileBlock{}, "", false
	}
	content := body[:end]
	// The marker lines own their trailing/leading newline, not the payload.
	content = strings.TrimPrefix(content, "\n")
	content = strings.TrimSuffix(content, "\n")
	return FileBlock{Path: path, Content: content}, body[end+len(fileEndMarker):], true
}

func parsePatchBlock(raw string) (PatchBlock, string, bool) {
	path, body, ok := cutHeader(raw, patchStartMarker)
	if !ok {
		return PatchBlock{}, "", false
	}
	end := strings.Index(body, patchEndMarker)
	if end < 0 {
		return PatchBlock{}, "", false
	}
	inner := body[:end]
	rest := body[end+len(patchEndMarker):]

	block := PatchBlock{Path: path}
	for {
		findIdx := strings.Index(inner, findMarker)
		if findIdx < 0 {
			break
		}
		afterFind := inner[findIdx+len(findMarker):]
		replIdx := strings.Index(afterFind, replaceMarker)
		if replIdx < 0 {
			break
		}
		find := trimBlockPayload(afterFind[:replIdx])

		afterRepl := afterFind[replIdx+len(replaceMarker):]
		next := strings.Index(afterRepl, findMarker)
		var replace string
		if next < 0 {
			replace = trimBlockPayload(afterRepl)
			inner = ""
		} else {
			replace = trimBlockPayload(afterRepl[:next])
			inner = afterRepl[next:]
		}
		block.Changes = append(block.Changes, PatchChange{Find: find, Replace: replace})
		if inner == "" {
			break
		}
	}
	if len(block.Changes) == 0 {
		return PatchBlock{}, "", false
	}
	return block, rest, true
}

// cutHeader strips "<marker><path>===\n" and returns the path and the
// remaining body.
func cutHeader(raw, marker string) (string, string, bool) {
	raw = raw[len(marker):]
	end := strings.Index(raw, markerSuffix)
	if end < 0 {
		return "", "", false
	}
	path := strings.TrimSpace(raw[:end])
	return path, raw[end+len(markerSuffix):], true
}

func trimBlockPayload(s string) string {
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return s
}
