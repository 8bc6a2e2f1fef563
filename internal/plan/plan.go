// Package plan implements the Action Planner (C6): turns analyzed issues
// into pending actions, per spec.md §4.6. The teacher has no analogue for a
// rule-driven action emitter (Cursor agents are launched by Mattermost slash
// commands, not planned from scored evidence); this package is new,
// following the repo's established functional-options and config-store
// idioms from internal/ratebudget and internal/config.
package plan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/octocrew/gh-automation-core/internal/config"
	"github.com/octocrew/gh-automation-core/internal/detect"
	"github.com/octocrew/gh-automation-core/internal/domain"
)

// defaultImpactHints maps a label to its impact_hint value, per spec.md
// §4.6's priority-score formula example.
var defaultImpactHints = map[string]float64{
	"security": 1.0,
	"bug":      0.7,
}

const defaultImpactHint = 0.3

// recencyHorizon bounds recency_normalized's window; an issue updated at the
// horizon scores 0, one updated just now scores 1.
const recencyHorizon = 30 * 24 * time.Hour

// Planner emits actions for analyzed issues per the rules in spec.md §4.6.
type Planner struct {
	cfg         *config.Store
	impactHints map[string]float64
	now         func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithImpactHints overrides the default label → impact_hint map.
func WithImpactHints(hints map[string]float64) Option {
	return func(p *Planner) { p.impactHints = hints }
}

// WithClock injects a clock for deterministic recency-scoring tests.
func WithClock(now func() time.Time) Option { return func(p *Planner) { p.now = now } }

// New builds a Planner reading policy from cfg.
func New(cfg *config.Store, opts ...Option) *Planner {
	p := &Planner{cfg: cfg, impactHints: defaultImpactHints, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Input bundles an analyzed issue with its detection result, the unit the
// planner consumes per issue.
type Input struct {
	Issue     domain.Issue
	Detection detect.Result
}

// Plan implements spec.md §4.6: for each eligible issue, emit at most one
// action of each applicable type, subject to configured thresholds, capped
// at max_actions_per_run across the whole batch and ordered by priority.
func (p *Planner) Plan(_ context.Context, inputs []Input) []domain.Action {
	cfg := p.cfg.Get()
	var actions []domain.Action

	for _, in := range inputs {
		if !in.Detection.AutomationEligible || in.Detection.Confidence == nil {
			continue
		}
		actions = append(actions, p.planForIssue(cfg, in)...)
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].PriorityScore != actions[j].PriorityScore {
			return actions[i].PriorityScore > actions[j].PriorityScore
		}
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})

	if cfg.MaxActionsPerRun > 0 && len(actions) > cfg.MaxActionsPerRun {
		actions = actions[:cfg.MaxActionsPerRun]
	}
	return actions
}

func (p *Planner) planForIssue(cfg *config.Config, in Input) []domain.Action {
	issue := in.Issue
	det := in.Detection
	confidence := *det.Confidence
	score := det.FeatureCompletionScore
	now := p.now()

	var emitted []domain.Action
	var closeEmitted, labelEmitted bool

	if cfg.EnableAutoClose && issue.Status == domain.IssueStatusOpen &&
		(confidence == domain.ConfidenceHigh || confidence == domain.ConfidenceVeryHigh) &&
		score >= cfg.MinConfidenceAutoClose {
		emitted = append(emitted, p.newAction(issue, domain.ActionTypeCloseIssue, score,
			fmt.Sprintf("feature_completion_score=%.2f confidence=%s", score, confidence), now))
		closeEmitted = true
	}

	var proposedLabels []string
	if cfg.EnableAutoLabel && score >= cfg.MinConfidenceAutoLabel {
		proposedLabels = derivedLabels(confidence)
		proposedLabels = setDifference(proposedLabels, issue.Labels)
		if len(proposedLabels) > 0 {
			a := p.newAction(issue, domain.ActionTypeLabelIssue, score,
				fmt.Sprintf("proposed_labels=%v", proposedLabels), now)
			a.Evidence = domain.JSONBlob{"proposed_labels": proposedLabels}
			emitted = append(emitted, a)
			labelEmitted = true
		}
	}

	if cfg.EnableAutoComment && (closeEmitted || labelEmitted) {
		emitted = append(emitted, p.newAction(issue, domain.ActionTypeCommentIssue, score,
			summaryReasoning(det), now))
	}

	for i := range emitted {
		emitted[i].PriorityScore = p.priorityScore(score, issue, now)
	}

	return emitted
}

func (p *Planner) newAction(issue domain.Issue, actionType domain.ActionType, confidence float64, reasoning string, now time.Time) domain.Action {
	return domain.Action{
		IssueID:         issue.ID,
		ActionType:      actionType,
		Status:          domain.ActionStatusPending,
		ConfidenceScore: confidence,
		Reasoning:       reasoning,
		MaxAttempts:     3,
		CanRollback:     true, // close_issue, label_issue, and comment_issue all have inverse ops per spec.md §4.7
		CreatedAt:       now,
	}
}

// priorityScore implements spec.md §4.6's execution-ordering formula:
// `0.6·confidence + 0.3·recency_normalized + 0.1·impact_hint`.
func (p *Planner) priorityScore(confidence float64, issue domain.Issue, now time.Time) float64 {
	age := now.Sub(issue.GitHubUpdatedAt)
	recency := 1 - float64(age)/float64(recencyHorizon)
	if recency < 0 {
		recency = 0
	}
	if recency > 1 {
		recency = 1
	}

	impact := defaultImpactHint
	for _, label := range issue.Labels {
		if hint, ok := p.impactHints[label]; ok && hint > impact {
			impact = hint
		}
	}

	return 0.6*confidence + 0.3*recency + 0.1*impact
}

func derivedLabels(confidence domain.AutomationConfidence) []string {
	labels := []string{"automation-reviewed"}
	switch confidence {
	case domain.ConfidenceVeryHigh:
		labels = append(labels, "likely-complete")
	case domain.ConfidenceHigh:
		labels = append(labels, "likely-complete")
	}
	return labels
}

func setDifference(proposed []string, current []string) []string {
	existing := make(map[string]bool, len(current))
	for _, l := range current {
		existing[l] = true
	}
	var diff []string
	for _, l := range proposed {
		if !existing[l] {
			diff = append(diff, l)
		}
	}
	return diff
}

func summaryReasoning(det detect.Result) string {
	return fmt.Sprintf("automated review: feature_completion_score=%.2f false_positive_score=%.2f",
		det.FeatureCompletionScore, det.FalsePositiveScore)
}
