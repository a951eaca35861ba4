package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequireStaff(t *testing.T) {
	_, err := RequireStaff(context.Background())
	require.ErrorIs(t, err, ErrForbidden)

	ctx := ContextWithActor(context.Background(), Actor{ID: 3, Role: RoleCustomer})
	_, err = RequireStaff(ctx)
	require.ErrorIs(t, err, ErrForbidden)

	for _, role := range []Role{RoleAdmin, RoleStaff} {
		ctx := ContextWithActor(context.Background(), Actor{ID: 9, Role: role})
		actor, err := RequireStaff(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(9), actor.ID)
	}
}

func TestRequireActorRejectsUnknownRole(t *testing.T) {
	ctx := ContextWithActor(context.Background(), Actor{ID: 1, Role: "guest"})
	_, err := RequireActor(ctx)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	verr := &ValidationError{}
	require.NoError(t, verr.OrNil())

	verr.Add("name", "required")
	verr.Add("sku", "required")
	err := verr.OrNil()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrValidation))
	require.Equal(t, "validation failed: name: required; sku: required", err.Error())
}

func TestUserSafeMessageHidesInternals(t *testing.T) {
	require.Equal(t, "internal error", UserSafeMessage(errors.New("dial tcp 10.0.0.1:5432: refused")))
	require.Equal(t, "insufficient stock", UserSafeMessage(ErrInsufficientStock))
}
