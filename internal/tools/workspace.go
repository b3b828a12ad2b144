package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
)

// Names of the workspace persistence tools.
const (
	ToolCreateDirectory = "create_directory"
	ToolWriteFile       = "write_file"
	ToolEditFile        = "edit_file"
	ToolReadFile        = "read_file"
	ToolListDirectory   = "list_directory"
)

var ErrPathEscape = errors.New("path escapes the workspace")

// Workspace confines file tools to a root directory.
type Workspace struct {
	root string
}

// NewWorkspace creates the root directory if needed.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{root: abs}, nil
}

func (w *Workspace) Root() string { return w.root }

// resolve maps a relative or absolute path into the workspace.
func (w *Workspace) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is empty")
	}
	var full string
	if filepath.IsAbs(p) {
		full = filepath.Clean(p)
	} else {
		full = filepath.Join(w.root, p)
	}
	rel, err := filepath.Rel(w.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}
	return full, nil
}

func pathSchema(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"path": map[string]interface{}{"type": "string", "description": "Path relative to the workspace root"},
	}
	for k, v := range extra {
		props[k] = v
	}
	return models.ObjectSchema(props)
}

// Tools returns the five workspace tools.
func (w *Workspace) Tools() []Tool {
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	return []Tool{
		FuncTool{
			ToolSpec: models.ToolSpec{Name: ToolCreateDirectory, Description: "Create a directory (and parents) in the workspace.", Parameters: pathSchema(nil)},
			Fn:       w.createDirectory,
		},
		FuncTool{
			ToolSpec: models.ToolSpec{Name: ToolWriteFile, Description: "Create or overwrite a file in the workspace.", Parameters: pathSchema(map[string]interface{}{"content": str("Full file content")})},
			Fn:       w.writeFile,
		},
		FuncTool{
			ToolSpec: models.ToolSpec{Name: ToolEditFile, Description: "Replace one exact occurrence of old_text with new_text in a workspace file.", Parameters: pathSchema(map[string]interface{}{"old_text": str("Text to replace"), "new_text": str("Replacement text")})},
			Fn:       w.editFile,
		},
		FuncTool{
			ToolSpec: models.ToolSpec{Name: ToolReadFile, Description: "Read a file from the workspace.", Parameters: pathSchema(nil)},
			Fn:       w.readFile,
		},
		FuncTool{
			ToolSpec: models.ToolSpec{Name: ToolListDirectory, Description: "List the entries of a workspace directory.", Parameters: pathSchema(nil)},
			Fn:       w.listDirectory,
		},
	}
}

func (w *Workspace) createDirectory(_ context.Context, args map[string]interface{}) (string, error) {
	p, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	full, err := w.resolve(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created directory %s", p), nil
}

func (w *Workspace) writeFile(_ context.Context, args map[string]interface{}) (string, error) {
	p, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return "", err
	}
	full, err := w.resolve(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), p), nil
}

func (w *Workspace) editFile(_ context.Context, args map[string]interface{}) (string, error) {
	p, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	oldText, err := stringArg(args, "old_text")
	if err != nil {
		return "", err
	}
	newText, err := stringArg(args, "new_text")
	if err != nil {
		return "", err
	}
	full, err := w.resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	content := string(data)
	switch n := strings.Count(content, oldText); {
	case oldText == "" || n == 0:
		return "", fmt.Errorf("old_text not found in %s", p)
	case n > 1:
		return "", fmt.Errorf("old_text matches %d times in %s; make it unique", n, p)
	}
	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Edited %s", p), nil
}

func (w *Workspace) readFile(_ context.Context, args map[string]interface{}) (string, error) {
	p, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	full, err := w.resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *Workspace) listDirectory(_ context.Context, args map[string]interface{}) (string, error) {
	p := optionalString(args, "path", ".")
	full, err := w.resolve(p)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty)", nil
	}
	return strings.Join(names, "\n"), nil
}
