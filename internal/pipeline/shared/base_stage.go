// Package shared provides common building blocks for pipeline stages.
package shared

import (
	"github.com/clipsight/clipsight/internal/pipeline/core"
)

// BaseStage provides the identity and policy half of the stage contract.
// Embed it in stage implementations; Execute remains per-stage.
type BaseStage struct {
	id       string
	name     string
	deps     []string
	tolerant bool
}

// NewBaseStage creates a BaseStage. Tolerance is a property of the stage,
// fixed at construction.
func NewBaseStage(id, name string, deps []string, tolerant bool) BaseStage {
	return BaseStage{id: id, name: name, deps: deps, tolerant: tolerant}
}

// ID returns the stage identifier.
func (b *BaseStage) ID() string { return b.id }

// Name returns the human-readable stage name.
func (b *BaseStage) Name() string { return b.name }

// Deps returns the stage IDs this stage depends on.
func (b *BaseStage) Deps() []string { return b.deps }

// Tolerant reports whether a failure of this stage lets the job continue.
func (b *BaseStage) Tolerant() bool { return b.tolerant }

// NewResult creates an empty StageResult.
func NewResult() *core.StageResult {
	return &core.StageResult{}
}
