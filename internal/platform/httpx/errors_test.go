package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.Errorf(shared.KindUnbalanced, "debits 100.00 credits 90.00"), http.StatusUnprocessableEntity},
		{shared.Errorf(shared.KindPeriodClosed, "period closed"), http.StatusConflict},
		{shared.Errorf(shared.KindPermissionDenied, "no"), http.StatusForbidden},
		{shared.ErrNotFound, http.StatusNotFound},
		{shared.Errorf(shared.KindMissingAccountMapping, "AR control"), http.StatusFailedDependency},
		{errors.New("driver exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
	}
}

func TestRespondErrorBody(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.Errorf(shared.KindInvalidStateTransition, "Only submitted documents can be posted"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "Only submitted documents can be posted", body.Detail)
	require.Equal(t, "invalid_state_transition", body.Kind)

	rr = httptest.NewRecorder()
	RespondError(rr, errors.New("secret dsn leaked"))
	require.NotContains(t, rr.Body.String(), "secret")
}
