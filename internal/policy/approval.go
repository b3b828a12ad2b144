package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/util"
)

const decisionQuery = "data.planner.tools.decision"

// Input is the document a rego policy sees as input
type Input struct {
	RunID       string                 `json:"run_id"`
	Tool        string                 `json:"tool"`
	Args        map[string]interface{} `json:"args"`
	Protected   bool                   `json:"protected"`
	Environment string                 `json:"environment"`
}

// Decision is the verdict for a single tool call
type Decision struct {
	RequireApproval bool   `json:"require_approval"`
	Reason          string `json:"reason"`
}

// ApprovalPolicy decides which proposed tool calls must stop at the human
// gate. The protected set always requires approval; rego can only add to it.
type ApprovalPolicy struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	loadErr  error
}

// NewApprovalPolicy compiles the rego modules under cfg.Path, if any.
func NewApprovalPolicy(cfg Config, logger *zap.Logger) (*ApprovalPolicy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProtectedTools == nil {
		cfg.ProtectedTools = DefaultProtectedTools()
	}
	p := &ApprovalPolicy{cfg: cfg, logger: logger}
	if cfg.Path != "" {
		if err := p.Reload(); err != nil {
			if !cfg.FailClosed {
				logger.Warn("Failed to load approval policy, using protected set only", zap.Error(err))
				return p, nil
			}
			return nil, err
		}
	}
	return p, nil
}

// Protected reports whether tool is in the static protected set
func (p *ApprovalPolicy) Protected(tool string) bool {
	return util.ContainsString(p.cfg.ProtectedTools, tool)
}

// Reload recompiles the rego modules. On failure the previous policy stays active.
func (p *ApprovalPolicy) Reload() error {
	if p.cfg.Path == "" {
		return nil
	}
	modules, err := readModules(p.cfg.Path)
	if err == nil && len(modules) == 0 {
		err = fmt.Errorf("no .rego files in %s", p.cfg.Path)
	}
	var compiled rego.PreparedEvalQuery
	if err == nil {
		opts := []func(*rego.Rego){rego.Query(decisionQuery)}
		names := make([]string, 0, len(modules))
		for name := range modules {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			opts = append(opts, rego.Module(name, modules[name]))
		}
		compiled, err = rego.New(opts...).PrepareForEval(context.Background())
		if err != nil {
			err = fmt.Errorf("failed to compile policies: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		evaluationErrors.WithLabelValues("load").Inc()
		p.loadErr = err
		return err
	}
	p.compiled = &compiled
	p.loadErr = nil
	loadedModules.Set(float64(len(modules)))
	p.logger.Info("Approval policy loaded", zap.Int("modules", len(modules)), zap.String("path", p.cfg.Path))
	return nil
}

func readModules(dir string) (map[string]string, error) {
	modules := make(map[string]string)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		modules[rel] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}
	return modules, nil
}

// Evaluate returns the decision for one call
func (p *ApprovalPolicy) Evaluate(ctx context.Context, runID string, call state.ToolCall) Decision {
	protected := p.Protected(call.Name)
	decision := Decision{RequireApproval: protected, Reason: "not protected"}
	if protected {
		decision.Reason = "protected tool"
	}

	p.mu.RLock()
	compiled, loadErr := p.compiled, p.loadErr
	p.mu.RUnlock()

	switch {
	case compiled == nil && loadErr != nil && p.cfg.FailClosed:
		decision = Decision{RequireApproval: true, Reason: "policy unavailable (fail-closed)"}
	case compiled != nil && !protected:
		input := map[string]interface{}{
			"run_id":      runID,
			"tool":        call.Name,
			"args":        call.Args,
			"protected":   protected,
			"environment": p.cfg.Environment,
		}
		rs, err := compiled.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			evaluationErrors.WithLabelValues("eval").Inc()
			p.logger.Warn("Approval policy evaluation failed", zap.String("tool", call.Name), zap.Error(err))
			if p.cfg.FailClosed {
				decision = Decision{RequireApproval: true, Reason: "policy evaluation error (fail-closed)"}
			}
			break
		}
		if d, ok := parseDecision(rs); ok && d.RequireApproval {
			decision = d
		}
	}

	recordEvaluation(call.Name, decision.RequireApproval)
	return decision
}

// RequiresApproval reports whether any call must pass the human gate
func (p *ApprovalPolicy) RequiresApproval(ctx context.Context, runID string, calls []state.ToolCall) bool {
	for _, c := range calls {
		if p.Evaluate(ctx, runID, c).RequireApproval {
			return true
		}
	}
	return false
}

func parseDecision(rs rego.ResultSet) (Decision, bool) {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, false
	}
	switch v := rs[0].Expressions[0].Value.(type) {
	case map[string]interface{}:
		d := Decision{}
		if b, ok := v["require_approval"].(bool); ok {
			d.RequireApproval = b
		}
		if r, ok := v["reason"].(string); ok {
			d.Reason = r
		}
		return d, true
	case bool:
		return Decision{RequireApproval: v, Reason: "rego boolean decision"}, true
	default:
		return Decision{}, false
	}
}
