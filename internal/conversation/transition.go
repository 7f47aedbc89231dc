package conversation

import (
	"fmt"
	"time"
)

// Patch is a sparse update to a conversation's mutable fields.
type Patch struct {
	Status *Status
	// AssigneeID sets the assignee; Unassign clears it. Setting both is
	// rejected.
	AssigneeID   *string
	Unassign     bool
	MergedIntoID *int64
}

// Transition describes a single state-machine step: the fields to set, who
// asked for it (nil for system actions) and why. The event type defaults to
// EventUpdate.
type Transition struct {
	Set       Patch
	ActorID   *string
	Reason    string
	EventType EventType
}

func (t Transition) eventType() EventType {
	if t.EventType == "" {
		return EventUpdate
	}
	return t.EventType
}

// applyPatch returns the conversation after the patch. Transitioning into
// closed from any other status stamps ClosedAt.
func applyPatch(conv Conversation, p Patch, now time.Time) (Conversation, error) {
	if p.AssigneeID != nil && p.Unassign {
		return conv, fmt.Errorf("patch sets and clears the assignee at once")
	}

	after := conv
	if p.Status != nil {
		if !p.Status.Valid() {
			return conv, fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
		}
		if conv.Status != StatusClosed && *p.Status == StatusClosed {
			closedAt := now
			after.ClosedAt = &closedAt
		}
		after.Status = *p.Status
	}
	if p.AssigneeID != nil {
		after.AssigneeID = p.AssigneeID
	}
	if p.Unassign {
		after.AssigneeID = nil
	}
	if p.MergedIntoID != nil {
		after.MergedIntoID = p.MergedIntoID
	}
	after.UpdatedAt = now
	return after, nil
}

// diffChanges returns the sparse diff recorded on the conversation event.
// Only state-machine fields are logged; an empty diff means the transition
// was a no-op and no event is written.
func diffChanges(before, after Conversation) map[string]any {
	changes := map[string]any{}
	if before.Status != after.Status {
		changes["status"] = string(after.Status)
	}
	if !equalStringPtr(before.AssigneeID, after.AssigneeID) {
		if after.AssigneeID == nil {
			changes["assignee_id"] = nil
		} else {
			changes["assignee_id"] = *after.AssigneeID
		}
	}
	if !equalInt64Ptr(before.MergedIntoID, after.MergedIntoID) {
		changes["merged_into_id"] = after.MergedIntoID
	}
	return changes
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
