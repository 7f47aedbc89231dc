package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/techmannih/helpdesk/internal/ai"
)

const aiConditionalRubric = `You are evaluating whether a customer message satisfies a condition.

Condition: %s

Respond with only 'yes' or 'no'.`

// Classifier is the AI collaborator behind the AI-conditional operator.
type Classifier interface {
	Classify(ctx context.Context, messages []ai.Message, rubric string) (string, error)
}

// Engine evaluates workflows against a message context.
type Engine struct {
	classifier Classifier
}

// NewEngine creates an evaluator.
func NewEngine(classifier Classifier) *Engine {
	return &Engine{classifier: classifier}
}

// Evaluate returns the first workflow, in ascending order, with at least one
// fully matching condition group, or nil when none matches. First match
// wins: later workflows are never evaluated once one matches. Soft-deleted
// workflows are excluded entirely.
func (e *Engine) Evaluate(ctx context.Context, mc MessageContext, workflows []Workflow) (*Workflow, error) {
	sorted := make([]Workflow, 0, len(workflows))
	for _, wf := range workflows {
		if wf.DeletedAt != nil {
			continue
		}
		sorted = append(sorted, wf)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})

	for i := range sorted {
		matched, err := e.matchWorkflow(ctx, mc, sorted[i])
		if err != nil {
			return nil, err
		}
		if matched {
			return &sorted[i], nil
		}
	}
	return nil, nil
}

// matchWorkflow OR-reduces over groups: any fully matching group matches
// the workflow.
func (e *Engine) matchWorkflow(ctx context.Context, mc MessageContext, wf Workflow) (bool, error) {
	for _, group := range wf.Groups {
		matched, err := e.matchGroup(ctx, mc, group)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// matchGroup AND-reduces over the group's conditions. Deterministic
// conditions are evaluated first regardless of stored order, so a
// deterministic failure short-circuits before any AI call is paid for.
func (e *Engine) matchGroup(ctx context.Context, mc MessageContext, group ConditionGroup) (bool, error) {
	if len(group.Conditions) == 0 {
		return false, nil
	}

	ordered := make([]Condition, 0, len(group.Conditions))
	var deferred []Condition
	for _, cond := range group.Conditions {
		if cond.Operator == OpAIConditionalFor {
			deferred = append(deferred, cond)
			continue
		}
		ordered = append(ordered, cond)
	}
	ordered = append(ordered, deferred...)

	for _, cond := range ordered {
		matched, err := e.matchCondition(ctx, mc, cond)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) matchCondition(ctx context.Context, mc MessageContext, cond Condition) (bool, error) {
	fieldValue := mc.Field(cond.Field)

	if cond.Operator == OpAIConditionalFor {
		return e.matchAIConditional(ctx, fieldValue, cond.Value)
	}

	haystack := strings.ToLower(fieldValue)
	needle := strings.ToLower(cond.Value)
	switch cond.Operator {
	case OpContains:
		return strings.Contains(haystack, needle), nil
	case OpNotContains:
		return !strings.Contains(haystack, needle), nil
	case OpEquals:
		return haystack == needle, nil
	case OpNotEquals:
		return haystack != needle, nil
	case OpStartsWith:
		return strings.HasPrefix(haystack, needle), nil
	case OpEndsWith:
		return strings.HasSuffix(haystack, needle), nil
	}
	return false, fmt.Errorf("unknown workflow condition operator %q", cond.Operator)
}

// matchAIConditional asks the classifier whether the field value satisfies
// the natural-language predicate. Malformed output is treated as no-match;
// transport errors propagate so the surrounding job can retry.
func (e *Engine) matchAIConditional(ctx context.Context, fieldValue, predicate string) (bool, error) {
	verdict, err := e.classifier.Classify(ctx,
		[]ai.Message{{Role: ai.RoleUser, Content: fieldValue}},
		fmt.Sprintf(aiConditionalRubric, predicate))
	if err != nil {
		return false, fmt.Errorf("ai conditional: %w", err)
	}

	matched := ai.ParseYesNo(verdict)
	log.Debug().Bool("matched", matched).Str("predicate", predicate).Msg("ai conditional evaluated")
	return matched, nil
}
