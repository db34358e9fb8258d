package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwner(t *testing.T) {
	tests := []struct {
		kind, petID string
		want        Owner
		err         error
	}{
		{kind: "pet", petID: "p1", want: PetOwner{PetID: "p1"}},
		{kind: " pet ", petID: " p1 ", want: PetOwner{PetID: "p1"}},
		{kind: "pet", err: ErrMissingPetID},
		{kind: "pet", petID: "   ", err: ErrMissingPetID},
		{kind: "business", petID: "ignored", want: BusinessOwner{UserID: "u1"}},
		{kind: "profile", want: ProfileOwner{UserID: "u1"}},
		{kind: "", err: ErrInvalidOwnerType},
		{kind: "Pet", petID: "p1", err: ErrInvalidOwnerType},
		{kind: "shelter", err: ErrInvalidOwnerType},
	}
	for _, tt := range tests {
		got, err := ParseOwner(tt.kind, tt.petID, "u1")
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, "kind=%q petId=%q", tt.kind, tt.petID)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestJobOwnerRoundTrip(t *testing.T) {
	for _, o := range []Owner{PetOwner{PetID: "p1"}, BusinessOwner{UserID: "u1"}, ProfileOwner{UserID: "u1"}} {
		job := &Job{OwnerKind: o.Kind(), OwnerID: o.RecordID()}
		got, err := job.Owner()
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}

	_, err := (&Job{OwnerKind: "shelter", OwnerID: "x"}).Owner()
	assert.Error(t, err)
}

func TestStateTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateUploading, StateResponded},
		{StateUploading, StateFailed},
		{StateResponded, StatePersisting},
		{StatePersisting, StatePersisting},
		{StatePersisting, StateCommitted},
		{StateResponded, StateRollingBack},
		{StatePersisting, StateRollingBack},
		{StateRollingBack, StateRolledBack},
		{StateCommitted, StateDeleted},
		{StateResponded, StateDeleted},
		{StatePersisting, StateDeleted},
	}
	for _, tt := range allowed {
		assert.True(t, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}

	forbidden := []struct{ from, to State }{
		{StateUploading, StateCommitted},
		{StateResponded, StateCommitted},
		{StateCommitted, StateRollingBack},
		{StateRolledBack, StatePersisting},
		{StateFailed, StateResponded},
		{StateDeleted, StateCommitted},
		{StateDeleted, StatePersisting},
		{StateRolledBack, StateDeleted},
		{StateValidating, StateResponded},
	}
	for _, tt := range forbidden {
		assert.False(t, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}

	for _, s := range []State{StateCommitted, StateRolledBack, StateFailed, StateDeleted} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateValidating, StateUploading, StateResponded, StatePersisting, StateRollingBack} {
		assert.False(t, s.Terminal(), s)
	}
}
