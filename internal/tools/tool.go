package tools

import (
	"context"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
)

// Tool is a named capability the model can invoke. Invoke may fail; the
// gateway turns failures into tool message text.
type Tool interface {
	Spec() models.ToolSpec
	Invoke(ctx context.Context, args map[string]interface{}) (string, error)
}

// FuncTool adapts a function into a Tool
type FuncTool struct {
	ToolSpec models.ToolSpec
	Fn       func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (f FuncTool) Spec() models.ToolSpec { return f.ToolSpec }

func (f FuncTool) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	return f.Fn(ctx, args)
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func optionalString(args map[string]interface{}, key, def string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return def
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// stringsArg accepts either a JSON array of strings or a single string.
func stringsArg(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
