package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceErrorClassification(t *testing.T) {
	cases := []struct {
		err    *ServiceError
		check  func(error) bool
		status int
	}{
		{Required("reason"), IsValidation, http.StatusBadRequest},
		{NotFound("application", "ACME-F01-FRA-1"), IsNotFound, http.StatusNotFound},
		{PermissionDenied("archive"), IsPermission, http.StatusForbidden},
		{Conflict("allocation retries exhausted", nil), IsConflict, http.StatusConflict},
		{Constraint("referenced", []string{"submission:7"}), IsConstraint, http.StatusConflict},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("op: %w", tc.err)
		assert.True(t, tc.check(wrapped), tc.err.Error())
		assert.Equal(t, tc.status, GetServiceError(wrapped).HTTPStatus)
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFound("company", "1"))
	assert.True(t, errors.Is(err, &ServiceError{Code: CodeNotFound}))
	assert.False(t, errors.Is(err, &ServiceError{Code: CodeConflict}))
}

func TestConstraintCarriesOffenders(t *testing.T) {
	err := Constraint("still referenced", []string{"submission:1", "submission:2"})
	require.NotNil(t, GetServiceError(err))
	assert.Equal(t, []string{"submission:1", "submission:2"}, Offenders(err))
	assert.Nil(t, Offenders(errors.New("plain")))
}

func TestInternalUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Internal("failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}
