package collab

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
)

// Tool names offered to the model.
const (
	ToolWriteFile = "write_file"
	ToolReadFile  = "read_file"
	ToolListFiles = "list_files"
)

// toolDefinitions returns the schemas for the workspace tools.
func toolDefinitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        ToolWriteFile,
				Description: anthropic.String("Write a file in the repository. Creates parent directories. Paths are relative to the repository root."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Repository-relative path of the file",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Full file content",
						},
					},
					Required: []string{"path", "content"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        ToolReadFile,
				Description: anthropic.String("Read a file from the repository."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Repository-relative path of the file",
						},
					},
					Required: []string{"path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        ToolListFiles,
				Description: anthropic.String("List the entries of a repository directory."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "Repository-relative directory, empty for the root",
						},
					},
				},
			},
		},
	}
}

// toolResult is the outcome of one tool call.
type toolResult struct {
	Content string
	IsError bool
}

// workspace executes tool calls confined to a root directory and remembers
// every file written.
type workspace struct {
	root string

	mu      sync.Mutex
	written map[string]bool
}

func newWorkspace(root string) *workspace {
	return &workspace{root: root, written: make(map[string]bool)}
}

func (w *workspace) execute(name string, input json.RawMessage) toolResult {
	switch name {
	case ToolWriteFile:
		return w.writeFile(input)
	case ToolReadFile:
		return w.readFile(input)
	case ToolListFiles:
		return w.listFiles(input)
	default:
		return toolResult{Content: fmt.Sprintf("Unknown tool: %s", name), IsError: true}
	}
}

func (w *workspace) writeFile(input json.RawMessage) toolResult {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}
	}

	rel, abs, err := w.resolve(params.Path)
	if err != nil {
		return toolResult{Content: err.Error(), IsError: true}
	}
	if rel == "." {
		return toolResult{Content: "path must name a file", IsError: true}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return toolResult{Content: fmt.Sprintf("Failed to create directory: %v", err), IsError: true}
	}
	if err := os.WriteFile(abs, []byte(params.Content), 0644); err != nil {
		return toolResult{Content: fmt.Sprintf("Failed to write file: %v", err), IsError: true}
	}

	w.mu.Lock()
	w.written[rel] = true
	w.mu.Unlock()

	return toolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), rel)}
}

func (w *workspace) readFile(input json.RawMessage) toolResult {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return toolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}
	}

	_, abs, err := w.resolve(params.Path)
	if err != nil {
		return toolResult{Content: err.Error(), IsError: true}
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return toolResult{Content: fmt.Sprintf("Failed to read file: %v", err), IsError: true}
	}
	return toolResult{Content: string(content)}
}

func (w *workspace) listFiles(input json.RawMessage) toolResult {
	var params struct {
		Path string `json:"path"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &params); err != nil {
			return toolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}
		}
	}

	_, abs, err := w.resolve(params.Path)
	if err != nil {
		return toolResult{Content: err.Error(), IsError: true}
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return toolResult{Content: fmt.Sprintf("Failed to list directory: %v", err), IsError: true}
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", entry.Name())
		}
	}
	return toolResult{Content: b.String()}
}

// resolve maps a model-supplied path to a root-relative slash path and an
// absolute path. Paths leaving the root or touching .git are refused.
func (w *workspace) resolve(p string) (string, string, error) {
	p = strings.TrimSpace(p)
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return "", "", fmt.Errorf("path %q is outside the repository", p)
		}
		p = rel
	}

	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q is outside the repository", p)
	}
	rel := filepath.ToSlash(clean)
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return "", "", fmt.Errorf("path %q is inside .git", p)
	}
	return rel, filepath.Join(w.root, clean), nil
}

// files returns the written paths in sorted order.
func (w *workspace) files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.written))
	for p := range w.written {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
