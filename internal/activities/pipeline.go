package activities

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tools"
)

// Pipeline bundles the stages of one planning run
type Pipeline struct {
	Clarifier  *Clarifier
	Supervisor *Supervisor
	Reports    *ReportWriter
	ToolLoop   *ToolLoop
}

// NewPipeline wires the stages over a toolset.
func NewPipeline(model models.ChatModel, toolset *tools.Toolset, approver Approver, settings Settings, logger *zap.Logger) *Pipeline {
	var research, persistence *tools.Gateway
	if toolset != nil {
		research, persistence = toolset.Research, toolset.Persistence
	}
	unit := NewResearchUnit(model, research, settings, logger.Named("research"))
	return &Pipeline{
		Clarifier:  NewClarifier(model, settings, logger.Named("clarify")),
		Supervisor: NewSupervisor(model, unit, settings, logger.Named("supervisor")),
		Reports:    NewReportWriter(model, settings, logger.Named("report")),
		ToolLoop:   NewToolLoop(model, persistence, approver, settings, logger.Named("tool_loop")),
	}
}

// Builder assembles pipelines from the tool registry. Settings and the
// connection config can be swapped at runtime; runs pick them up on their
// next step.
type Builder struct {
	model    models.ChatModel
	registry *tools.Registry
	approver Approver
	logger   *zap.Logger

	mu       sync.RWMutex
	settings Settings
	conn     tools.ConnectionConfig
}

func NewBuilder(model models.ChatModel, registry *tools.Registry, approver Approver, settings Settings, conn tools.ConnectionConfig, logger *zap.Logger) *Builder {
	return &Builder{
		model:    model,
		registry: registry,
		approver: approver,
		logger:   logger,
		settings: settings,
		conn:     conn,
	}
}

// Update replaces the settings and connection config
func (b *Builder) Update(settings Settings, conn tools.ConnectionConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = settings
	b.conn = conn
}

// Settings returns the current settings
func (b *Builder) Settings() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// Pipeline returns the stages for the current configuration.
func (b *Builder) Pipeline(ctx context.Context) (*Pipeline, error) {
	b.mu.RLock()
	settings, conn := b.settings, b.conn
	b.mu.RUnlock()

	toolset, err := b.registry.Toolset(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to build toolset: %w", err)
	}
	return NewPipeline(b.model, toolset, b.approver, settings, b.logger), nil
}
