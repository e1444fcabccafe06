package toolrouter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxFileReadBytes = 64 * 1024

// RegisterBuiltins registers the built-in local tools. workspacePath
// confines read_file; an empty path disables it.
func RegisterBuiltins(r *Router, workspacePath string) error {
	if err := r.Register(Definition{
		Name:        "get_time",
		Description: "Returns the current date and time in RFC 3339 format.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}); err != nil {
		return err
	}

	if workspacePath == "" {
		return nil
	}

	return r.Register(Definition{
		Name:        "read_file",
		Description: "Reads a text file from the workspace. Output is capped at 64 KiB.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root.",
				},
			},
			"required": []any{"path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			rel, _ := args["path"].(string)
			return readWorkspaceFile(workspacePath, rel)
		},
	})
}

func readWorkspaceFile(workspacePath, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}

	abs := filepath.Join(workspacePath, rel)
	resolved, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(workspacePath)
	if err != nil {
		return "", err
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", rel)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	if len(data) > maxFileReadBytes {
		data = data[:maxFileReadBytes]
	}
	return string(data), nil
}
