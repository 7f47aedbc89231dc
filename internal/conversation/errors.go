package conversation

import "errors"

var (
	// ErrNotFound indicates the conversation (or mailbox) does not exist.
	// Jobs classify it non-retriable: retrying cannot create the row.
	ErrNotFound = errors.New("conversation not found")

	// ErrMergeIntoSelf rejects merging a conversation into itself.
	ErrMergeIntoSelf = errors.New("cannot merge a conversation into itself")

	// ErrMergeChain rejects merging into a target that is itself merged
	// into another conversation; merge targets must be roots.
	ErrMergeChain = errors.New("merge target is already merged into another conversation")

	// ErrAlreadyMerged rejects re-merging a conversation that is already
	// merged into another one.
	ErrAlreadyMerged = errors.New("conversation is already merged")

	// ErrInvalidStatus rejects a transition to an unknown status.
	ErrInvalidStatus = errors.New("invalid conversation status")
)
