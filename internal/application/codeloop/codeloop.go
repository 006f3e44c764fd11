// Package codeloop implements the criticize -> edit -> test -> decide
// gate: a bounded, auto-rollback-by-default path that lets the engine
// patch its own operator/runner code, accepted only when every guard
// rail holds.
package codeloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brianmeyer/promptforge/internal/application/collaborators"
	"github.com/brianmeyer/promptforge/internal/application/golden"
	"github.com/brianmeyer/promptforge/internal/config"
	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/pkg/models"
)

// Critic proposes a critique of the current implementation given recent
// run history, naming the concrete change it thinks would help.
type Critic interface {
	Critique(ctx context.Context, taskClass models.TaskClass, recentVariants []models.Variant) (string, error)
}

// Editor turns a critique into a bounded set of patches.
type Editor interface {
	Edit(ctx context.Context, critique string) ([]collaborators.Patch, error)
}

// TestRunner runs the project's test suite and reports pass/fail.
type TestRunner interface {
	RunTests(ctx context.Context) (passed bool, output string, err error)
}

// Gate runs one criticize/edit/test/decide cycle.
type Gate struct {
	cfg        config.CodeLoopConfig
	critic     Critic
	editor     Editor
	patcher    collaborators.Patcher
	tests      TestRunner
	golden     *golden.Evaluator
	variants   repository.VariantRepository
	artifacts  repository.CodeLoopRepository
}

// New creates a Gate.
func New(cfg config.CodeLoopConfig, critic Critic, editor Editor, patcher collaborators.Patcher, tests TestRunner, goldenEval *golden.Evaluator, variants repository.VariantRepository, artifacts repository.CodeLoopRepository) *Gate {
	return &Gate{cfg: cfg, critic: critic, editor: editor, patcher: patcher, tests: tests, golden: goldenEval, variants: variants, artifacts: artifacts}
}

// Decision is the gate's verdict for one cycle.
type Decision struct {
	Accepted bool
	Reason   string
}

// Run executes one cycle against sourceRun's recent variants, scored
// against recipe under evaluation. beforeReward is the mean total_reward
// of the variants feeding the critique, used to compute the post-patch
// reward delta the acceptance gate checks; costRatio is the golden-suite
// generation cost of the patched code relative to the unpatched baseline.
func (g *Gate) Run(ctx context.Context, sourceRunID string, taskClass models.TaskClass, recipe models.Recipe, beforeReward float64, afterRewardFn func(ctx context.Context) (float64, float64, error)) (Decision, error) {
	history, err := g.variants.FindByRunID(ctx, sourceRunID)
	if err != nil {
		return Decision{}, fmt.Errorf("codeloop: load history: %w", err)
	}
	recent := toValues(history)

	critique, err := g.critic.Critique(ctx, taskClass, recent)
	if err != nil {
		return Decision{}, fmt.Errorf("codeloop: critique: %w", err)
	}

	patches, err := g.editor.Edit(ctx, critique)
	if err != nil {
		return Decision{}, fmt.Errorf("codeloop: edit: %w", err)
	}

	artifact := &models.CodeLoopArtifact{
		ID: uuid.New().String(), SourceRunID: sourceRunID, Critique: critique,
		Patches: patchDiffs(patches),
	}

	if violation := g.checkCaps(patches); violation != "" {
		artifact.Accepted = false
		artifact.RollbackReason = violation
		_ = g.artifacts.Create(ctx, artifact)
		return Decision{Accepted: false, Reason: violation}, nil
	}

	filesChanged, err := g.patcher.Apply(ctx, patches)
	if err != nil {
		return Decision{}, fmt.Errorf("codeloop: apply patches: %w", err)
	}
	artifact.FilesChanged = filesChanged

	passed, _, err := g.tests.RunTests(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("codeloop: run tests: %w", err)
	}
	artifact.TestsPassed = passed

	if !passed {
		return g.rollback(ctx, artifact, "tests failed after patch")
	}

	afterReward, costRatio, err := afterRewardFn(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("codeloop: evaluate patched reward: %w", err)
	}
	artifact.RewardDelta = afterReward - beforeReward
	artifact.CostRatio = costRatio

	summary, err := g.golden.Run(ctx, recipe, sourceRunID)
	if err != nil {
		return Decision{}, fmt.Errorf("codeloop: golden evaluation: %w", err)
	}
	artifact.GoldenPassRate = summary.PassRate

	if reason := g.checkAcceptance(artifact); reason != "" {
		return g.rollback(ctx, artifact, reason)
	}

	artifact.Accepted = true
	if err := g.artifacts.Create(ctx, artifact); err != nil {
		return Decision{}, fmt.Errorf("codeloop: persist artifact: %w", err)
	}
	return Decision{Accepted: true, Reason: "accepted"}, nil
}

// checkCaps enforces the hard limits on patch size before anything is
// applied: lines per patch, patch count, and distinct files touched.
func (g *Gate) checkCaps(patches []collaborators.Patch) string {
	if len(patches) > g.cfg.MaxPatches {
		return fmt.Sprintf("patch count %d exceeds cap %d", len(patches), g.cfg.MaxPatches)
	}

	files := make(map[string]bool)
	for _, p := range patches {
		files[p.FilePath] = true
		lines := strings.Count(p.Diff, "\n")
		if lines > g.cfg.MaxLinesPerPatch {
			return fmt.Sprintf("patch to %s has %d lines, exceeds cap %d", p.FilePath, lines, g.cfg.MaxLinesPerPatch)
		}
	}
	if len(files) > g.cfg.MaxFiles {
		return fmt.Sprintf("patch touches %d files, exceeds cap %d", len(files), g.cfg.MaxFiles)
	}
	return ""
}

// checkAcceptance applies the all-of acceptance gate: reward delta,
// cost ratio, and golden pass rate must all clear their thresholds.
func (g *Gate) checkAcceptance(artifact *models.CodeLoopArtifact) string {
	if artifact.RewardDelta < g.cfg.RewardDeltaMin {
		return fmt.Sprintf("reward delta %.4f below minimum %.4f", artifact.RewardDelta, g.cfg.RewardDeltaMin)
	}
	if artifact.CostRatio > g.cfg.CostRatioMax {
		return fmt.Sprintf("cost ratio %.4f exceeds maximum %.4f", artifact.CostRatio, g.cfg.CostRatioMax)
	}
	if artifact.GoldenPassRate < g.cfg.GoldenPassMin {
		return fmt.Sprintf("golden pass rate %.4f below minimum %.4f", artifact.GoldenPassRate, g.cfg.GoldenPassMin)
	}
	return ""
}

func (g *Gate) rollback(ctx context.Context, artifact *models.CodeLoopArtifact, reason string) (Decision, error) {
	artifact.Accepted = false
	artifact.RollbackReason = reason
	if err := g.patcher.Revert(ctx); err != nil {
		return Decision{}, fmt.Errorf("codeloop: rollback: %w", err)
	}
	if err := g.artifacts.Create(ctx, artifact); err != nil {
		return Decision{}, fmt.Errorf("codeloop: persist rollback artifact: %w", err)
	}
	return Decision{Accepted: false, Reason: reason}, nil
}

func patchDiffs(patches []collaborators.Patch) []string {
	out := make([]string, len(patches))
	for i, p := range patches {
		out[i] = p.FilePath + "\n" + p.Diff
	}
	return out
}

func toValues(ptrs []*models.Variant) []models.Variant {
	out := make([]models.Variant, 0, len(ptrs))
	for _, p := range ptrs {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}
