package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to ActionStatus
		want     bool
	}{
		{ActionStatusPending, ActionStatusInProgress, true},
		{ActionStatusPending, ActionStatusCancelled, true},
		{ActionStatusPending, ActionStatusCompleted, false},
		{ActionStatusInProgress, ActionStatusInProgress, true},
		{ActionStatusInProgress, ActionStatusCompleted, true},
		{ActionStatusInProgress, ActionStatusFailed, true},
		{ActionStatusInProgress, ActionStatusCancelled, true},
		{ActionStatusInProgress, ActionStatusPending, true},
		{ActionStatusCompleted, ActionStatusRolledBack, true},
		{ActionStatusCompleted, ActionStatusFailed, false},
		{ActionStatusFailed, ActionStatusInProgress, false},
		{ActionStatusCancelled, ActionStatusInProgress, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestActionStatus_Terminal(t *testing.T) {
	assert.True(t, ActionStatusCompleted.Terminal())
	assert.True(t, ActionStatusFailed.Terminal())
	assert.True(t, ActionStatusRolledBack.Terminal())
	assert.True(t, ActionStatusCancelled.Terminal())
	assert.False(t, ActionStatusPending.Terminal())
	assert.False(t, ActionStatusInProgress.Terminal())
}

func TestIssue_HasLabel(t *testing.T) {
	issue := &Issue{Labels: StringList{"bug", "do-not-automate"}}
	assert.True(t, issue.HasLabel("do-not-automate"))
	assert.False(t, issue.HasLabel("enhancement"))
}
