package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		resolved bool
		reason   string
	}{
		{"ok verdict", "ok: answer covered the refund policy", true, "answer covered the refund policy"},
		{"ok uppercase with whitespace", "  OK: looks good ", true, "looks good"},
		{"bad verdict", "bad: customer is frustrated", false, "customer is frustrated"},
		{"ok without reason", "ok:", true, ""},
		{"garbage defaults to not resolved", "the conversation went well", false, ""},
		{"empty defaults to not resolved", "", false, ""},
		{"ok buried in prose is not a verdict", "i think it is ok: fine", false, "fine"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, reason := ParseResolution(tt.input)
			assert.Equal(t, tt.resolved, resolved)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestParseYesNo(t *testing.T) {
	assert.True(t, ParseYesNo("yes"))
	assert.True(t, ParseYesNo("Yes."))
	assert.True(t, ParseYesNo("  YES  "))
	assert.True(t, ParseYesNo("yes, the message is about billing"))

	assert.False(t, ParseYesNo("no"))
	assert.False(t, ParseYesNo("No."))
	assert.False(t, ParseYesNo("maybe"))
	assert.False(t, ParseYesNo(""))
	assert.False(t, ParseYesNo("the answer is yes"))
}
