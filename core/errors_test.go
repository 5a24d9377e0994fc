package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/fulfillment-engine/core"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want core.ErrorKind
	}{
		{"nil", nil, core.KindNone},
		{"validation", core.Invalid("qty", "negative"), core.KindValidation},
		{"conflict", &core.ConflictError{OrderID: "O1"}, core.KindConflict},
		{"consistency", &core.ConsistencyError{Message: "x"}, core.KindConsistency},
		{"collaborator", &core.CollaboratorError{Service: "tax", Op: "computeTax", Err: errors.New("down")}, core.KindCollaborator},
		{"collaborator wrapping not found", &core.CollaboratorError{Service: "inventory", Op: "reserve", Err: core.NotFound("inventory item", "INV-9")}, core.KindCollaborator},
		{"not found", core.NotFound("order", "O1"), core.KindNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", core.NotFound("order", "O1")), core.KindNotFound},
		{"internal", errors.New("boom"), core.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, core.KindOf(tc.err))
		})
	}
}

func TestConflictError_MatchesValidation(t *testing.T) {
	err := &core.ConflictError{OrderID: "O1", OrderItemSeqID: "00001", ShipGroupSeqID: "00001"}
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Contains(t, err.Error(), "already picked")
}

func TestCollaboratorError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &core.CollaboratorError{Service: "tax", Op: "computeTax", Err: cause}
	assert.ErrorIs(t, err, core.ErrCollaborator)
	assert.ErrorIs(t, err, cause)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, "tax.computeTax: connection refused", err.Error())
}

func TestIsRetryable_ConsistencyNever(t *testing.T) {
	assert.False(t, core.IsRetryable(&core.ConsistencyError{}))
	assert.False(t, core.IsRetryable(&core.CollaboratorError{Err: &core.ConsistencyError{}}))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, core.IsClientError(core.Invalid("x", "y")))
	assert.True(t, core.IsClientError(core.NotFound("order", "O1")))
	assert.False(t, core.IsClientError(errors.New("boom")))
}
