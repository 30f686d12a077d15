package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artisthub/platform/backend/admin-service/pkg/adminclient"
)

func testServer(t *testing.T) *adminclient.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/admin/users", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"users": []interface{}{
				map[string]interface{}{"id": 4, "email": "a@b.com", "firstName": "Ada", "lastName": "L", "role": "support", "subscriptionPlan": "creator", "subscriptionEnd": "2024-04-01T00:00:00Z"},
				map[string]interface{}{"id": 3, "email": "c@d.com"},
			},
			"pagination": map[string]interface{}{"page": 2, "limit": 15, "total": 17, "totalPages": 2},
		})
	})
	mux.HandleFunc("/api/admin/users/4/subscription", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["durationDays"] != float64(30) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "durationDays must be between 1 and 3650"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "subscriptionEnd": "2024-03-31T12:00:00Z"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := adminclient.New(srv.URL)
	require.NoError(t, err)
	return c
}

func TestRunUsers(t *testing.T) {
	c := testServer(t)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, []string{"users", "2"}, &out))
	s := out.String()
	require.Contains(t, s, "a@b.com")
	require.Contains(t, s, "support")
	require.Contains(t, s, "2024-04-01")
	require.Contains(t, s, "page 2 of 2 (17 users)")
}

func TestRunGrant(t *testing.T) {
	c := testServer(t)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, []string{"grant", "4", "creator", "30"}, &out))
	require.Contains(t, out.String(), "granted creator (Elevate) to user 4 until 2024-03-31T12:00:00Z")

	err := run(context.Background(), c, []string{"grant", "4", "creator", "0"}, &out)
	var apiErr *adminclient.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)

	err = run(context.Background(), c, []string{"grant", "4", "platinum", "30"}, &out)
	require.Error(t, err)
}

func TestRunUsage(t *testing.T) {
	c := testServer(t)
	for _, args := range [][]string{nil, {"bogus"}, {"users", "zero"}, {"grant", "1"}} {
		require.ErrorIs(t, run(context.Background(), c, args, &bytes.Buffer{}), errUsage, "%v", args)
	}
}
