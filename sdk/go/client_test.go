package projectflowsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsTokenAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/v0/reservations", r.URL.Path)
		assert.Equal(t, "p1", r.URL.Query().Get("project_id"))
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		_ = json.NewEncoder(w).Encode([]Reservation{{ID: "r1", ProjectID: "p1", Status: "pending"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	items, err := c.ListReservations(context.Background(), ReservationFilter{ProjectID: "p1", Status: "pending"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].ID)
}

func TestAPIErrorDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/reservations/r2/decision":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"conflicting_approval","message":"already claimed","details":{"holder_student_id":"stu-a"}}}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":"persistence_unavailable","message":"store unavailable"}}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.DecideReservation(context.Background(), "r2", "approve", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "conflicting_approval", apiErr.Code)
	assert.Equal(t, "stu-a", apiErr.Details["holder_student_id"])
	assert.False(t, apiErr.Temporary())

	_, err = c.Reserve(context.Background(), "p1")
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Temporary())
}
