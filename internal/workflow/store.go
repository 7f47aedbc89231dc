package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the Postgres-backed workflow store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a workflow store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// ListActive returns the mailbox's non-deleted workflows with their condition
// groups and actions assembled, ordered for evaluation.
func (s *PgStore) ListActive(ctx context.Context, mailboxID int64) ([]Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, mailbox_id, name, "order", run_on_replies, auto_reply_from_metadata, deleted_at
		FROM workflows
		WHERE mailbox_id = $1 AND deleted_at IS NULL
		ORDER BY "order", id`, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []Workflow
	byID := make(map[int64]*Workflow)
	for rows.Next() {
		var wf Workflow
		err := rows.Scan(&wf.ID, &wf.MailboxID, &wf.Name, &wf.Order,
			&wf.RunOnReplies, &wf.AutoReplyFromMetadata, &wf.DeletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	if len(workflows) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(workflows))
	for i := range workflows {
		ids[i] = workflows[i].ID
		byID[workflows[i].ID] = &workflows[i]
	}

	if err := s.loadGroups(ctx, ids, byID); err != nil {
		return nil, err
	}
	if err := s.loadActions(ctx, ids, byID); err != nil {
		return nil, err
	}
	return workflows, nil
}

func (s *PgStore) loadGroups(ctx context.Context, ids []int64, byID map[int64]*Workflow) error {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.workflow_id, c.field, c.operator, c.value
		FROM workflow_condition_groups g
		LEFT JOIN workflow_conditions c ON c.group_id = g.id
		WHERE g.workflow_id = ANY($1)
		ORDER BY g.workflow_id, g.id, c.id`, ids)
	if err != nil {
		return fmt.Errorf("failed to load workflow condition groups: %w", err)
	}
	defer rows.Close()

	groupIdx := make(map[int64]int)
	for rows.Next() {
		var (
			groupID    int64
			workflowID int64
			field      *ConditionField
			operator   *Operator
			value      *string
		)
		if err := rows.Scan(&groupID, &workflowID, &field, &operator, &value); err != nil {
			return fmt.Errorf("failed to scan workflow condition: %w", err)
		}
		wf := byID[workflowID]
		idx, ok := groupIdx[groupID]
		if !ok {
			wf.Groups = append(wf.Groups, ConditionGroup{ID: groupID})
			idx = len(wf.Groups) - 1
			groupIdx[groupID] = idx
		}
		// Rows for an empty group carry NULL condition columns.
		if field != nil {
			wf.Groups[idx].Conditions = append(wf.Groups[idx].Conditions, Condition{
				Field:    *field,
				Operator: *operator,
				Value:    *value,
			})
		}
	}
	return rows.Err()
}

func (s *PgStore) loadActions(ctx context.Context, ids []int64, byID map[int64]*Workflow) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, action_type, action_value
		FROM workflow_actions
		WHERE workflow_id = ANY($1)
		ORDER BY workflow_id, id`, ids)
	if err != nil {
		return fmt.Errorf("failed to load workflow actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action     Action
			workflowID int64
		)
		if err := rows.Scan(&action.ID, &workflowID, &action.Type, &action.Value); err != nil {
			return fmt.Errorf("failed to scan workflow action: %w", err)
		}
		byID[workflowID].Actions = append(byID[workflowID].Actions, action)
	}
	return rows.Err()
}

// Fetch returns the platform metadata stored for a customer email, or nil
// when the customer is unknown to the mailbox.
func (s *PgStore) Fetch(ctx context.Context, mailboxID int64, email string) (map[string]any, error) {
	var metadata map[string]any
	err := s.pool.QueryRow(ctx, `
		SELECT metadata FROM platform_customers
		WHERE mailbox_id = $1 AND email = $2`, mailboxID, email).Scan(&metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch customer metadata: %w", err)
	}
	return metadata, nil
}

// InsertRun records a workflow match. The groups snapshot is denormalized as
// JSON so later edits to the workflow never rewrite history.
func (s *PgStore) InsertRun(ctx context.Context, run Run) error {
	groupsJSON, err := json.Marshal(run.Groups)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow run snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (workflow_id, workflow_name, conversation_id, message_id, groups, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		run.WorkflowID, run.WorkflowName, run.ConversationID, run.MessageID, string(groupsJSON))
	if err != nil {
		return fmt.Errorf("failed to insert workflow run: %w", err)
	}
	return nil
}
