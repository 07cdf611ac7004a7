// Package coretools registers the built-in file, search, and web tools.
package coretools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Voyage-Pet-AI/vwork/pkg/toolexecutor"
)

const (
	defaultReadLimit  = 200000
	defaultFetchLimit = 500000
	fetchTimeout      = 30 * time.Second
)

// Options configures core tool registration.
type Options struct {
	WorkspaceRoot string
	HTTPClient    *http.Client
}

// RegisterCoreTools registers the file, search, and web tools on the
// registry.
func RegisterCoreTools(registry *toolexecutor.Registry, opts Options) error {
	if registry == nil {
		return errors.New("registry is required")
	}
	if strings.TrimSpace(opts.WorkspaceRoot) == "" {
		return errors.New("workspace root is required")
	}
	opts.WorkspaceRoot = filepath.Clean(opts.WorkspaceRoot)
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: fetchTimeout}
	}

	tools := []toolexecutor.ToolDefinition{
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
		listFilesTool(opts),
		searchFilesTool(opts),
		fetchTool(opts),
	}

	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func readFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "file__read",
		Description: "Read a file from the workspace.",
		InputSchema: objectSchema(map[string]interface{}{
			"path":      stringProp("Relative file path"),
			"max_bytes": numberProp("Maximum bytes to read (default 200000)"),
		}, "path"),
		Handler: func(_ context.Context, input map[string]interface{}) (string, error) {
			pathValue, _ := input["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}

			maxBytes := int64(defaultReadLimit)
			if raw, ok := input["max_bytes"].(float64); ok && raw > 0 {
				maxBytes = int64(raw)
			}

			data, truncated, err := readFileWithLimit(target, maxBytes)
			if err != nil {
				return "", err
			}
			if truncated {
				return string(data) + "\n[truncated]", nil
			}
			return string(data), nil
		},
	}
}

func writeFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "file__write",
		Description: "Write content to a file in the workspace, creating parent directories as needed.",
		InputSchema: objectSchema(map[string]interface{}{
			"path":    stringProp("Relative file path"),
			"content": stringProp("File content"),
			"append":  boolProp("Append instead of overwrite (default false)"),
		}, "path", "content"),
		Handler: func(_ context.Context, input map[string]interface{}) (string, error) {
			pathValue, _ := input["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}
			content, _ := input["content"].(string)
			appendMode, _ := input["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", err
			}

			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			file, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return "", err
			}
			defer file.Close()
			if _, err := file.WriteString(content); err != nil {
				return "", err
			}

			return encodeResult(map[string]interface{}{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			})
		},
	}
}

func editFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "file__edit",
		Description: "Replace text in a workspace file.",
		InputSchema: objectSchema(map[string]interface{}{
			"path":        stringProp("Relative file path"),
			"search":      stringProp("Text to search for"),
			"replace":     stringProp("Replacement text"),
			"replace_all": boolProp("Replace all occurrences (default false)"),
		}, "path", "search", "replace"),
		Handler: func(_ context.Context, input map[string]interface{}) (string, error) {
			pathValue, _ := input["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}
			search, _ := input["search"].(string)
			replace, _ := input["replace"].(string)
			replaceAll, _ := input["replace_all"].(bool)
			if search == "" {
				return "", fmt.Errorf("search is required")
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return "", err
			}
			content := string(data)

			occurrences := 0
			var updated string
			if replaceAll {
				occurrences = strings.Count(content, search)
				updated = strings.ReplaceAll(content, search, replace)
			} else if idx := strings.Index(content, search); idx >= 0 {
				occurrences = 1
				updated = content[:idx] + replace + content[idx+len(search):]
			}
			if occurrences == 0 {
				return "", fmt.Errorf("search text not found in %s", pathValue)
			}

			if err := os.WriteFile(target, []byte(updated), 0644); err != nil {
				return "", err
			}

			return encodeResult(map[string]interface{}{
				"path":        pathValue,
				"occurrences": occurrences,
			})
		},
	}
}

func listFilesTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "file__list",
		Description: "List directory entries in the workspace.",
		InputSchema: objectSchema(map[string]interface{}{
			"path": stringProp("Relative directory path (default workspace root)"),
		}),
		Handler: func(_ context.Context, input map[string]interface{}) (string, error) {
			pathValue, _ := input["path"].(string)
			if strings.TrimSpace(pathValue) == "" {
				pathValue = "."
			}
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return "", err
			}

			var b strings.Builder
			for _, entry := range entries {
				if entry.IsDir() {
					fmt.Fprintf(&b, "%s/\n", entry.Name())
				} else {
					fmt.Fprintf(&b, "%s\n", entry.Name())
				}
			}
			if b.Len() == 0 {
				return "(empty directory)", nil
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}

func searchFilesTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "search__files",
		Description: "Search workspace files for a text pattern and return matching lines.",
		InputSchema: objectSchema(map[string]interface{}{
			"pattern":     stringProp("Text to search for"),
			"path":        stringProp("Relative directory to search (default workspace root)"),
			"max_matches": numberProp("Maximum matches to return (default 50)"),
		}, "pattern"),
		Handler: func(_ context.Context, input map[string]interface{}) (string, error) {
			pattern, _ := input["pattern"].(string)
			if pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			pathValue, _ := input["path"].(string)
			if strings.TrimSpace(pathValue) == "" {
				pathValue = "."
			}
			root, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}

			maxMatches := 50
			if raw, ok := input["max_matches"].(float64); ok && raw > 0 {
				maxMatches = int(raw)
			}

			matches, err := searchTree(root, opts.WorkspaceRoot, pattern, maxMatches)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No matches found.", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}

func fetchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "web__fetch",
		Description: "Fetch a URL over HTTP and return the response body as text.",
		InputSchema: objectSchema(map[string]interface{}{
			"url":       stringProp("Absolute http or https URL"),
			"max_bytes": numberProp("Maximum bytes of body to return (default 500000)"),
		}, "url"),
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			rawURL, _ := input["url"].(string)
			if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
				return "", fmt.Errorf("url must start with http:// or https://")
			}

			maxBytes := int64(defaultFetchLimit)
			if raw, ok := input["max_bytes"].(float64); ok && raw > 0 {
				maxBytes = int64(raw)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return "", err
			}
			req.Header.Set("User-Agent", "vwork/0.1")

			resp, err := opts.HTTPClient.Do(req)
			if err != nil {
				return "", err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 {
				return "", fmt.Errorf("fetch failed: %s", resp.Status)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
			if err != nil {
				return "", err
			}
			return string(body), nil
		},
	}
}

func searchTree(root, workspaceRoot, pattern string, maxMatches int) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxMatches {
			return filepath.SkipAll
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if bytes.IndexByte(data, 0) >= 0 {
			// Binary file.
			return nil
		}

		rel, err := filepath.Rel(workspaceRoot, path)
		if err != nil {
			rel = path
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= maxMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	truncated := false
	if extra := make([]byte, 1); true {
		if _, err := file.Read(extra); err == nil {
			truncated = true
		}
	}
	return buf.Bytes(), truncated, nil
}

func resolvePathInWorkspace(workspaceRoot, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workspaceRoot, candidate)
	if err != nil {
		return "", err
	}
	if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
		return candidate, nil
	}
	return "", fmt.Errorf("path %q is outside the workspace", pathValue)
}

func encodeResult(value map[string]interface{}) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func numberProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": description}
}

func boolProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}
