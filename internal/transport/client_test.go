package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticToken(token string) TokenFunc {
	return func(ctx context.Context) (string, error) { return token, nil }
}

func TestPushSendsOperationWithCredentials(t *testing.T) {
	var gotAuth, gotContentType, gotMethod, gotPath string
	var gotOp PushOp

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotMethod = r.Method
		gotPath = r.URL.Path

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotOp))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, staticToken("tok-123"), nil)
	err := client.Push(context.Background(), PushOp{
		OpID:      "op-1",
		Type:      "ADD_LIST",
		Payload:   json.RawMessage(`{"id":"l1"}`),
		CreatedAt: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/sync", gotPath)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "op-1", gotOp.OpID)
	assert.Equal(t, "ADD_LIST", gotOp.Type)
}

func TestPushClassifiesStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		auth      bool
		conflict  bool
		retryable bool
	}{
		{http.StatusUnauthorized, true, false, false},
		{http.StatusForbidden, true, false, false},
		{http.StatusConflict, false, true, false},
		{http.StatusBadRequest, false, false, false},
		{http.StatusInternalServerError, false, false, true},
		{http.StatusServiceUnavailable, false, false, true},
	}

	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))

		client := NewClient(srv.URL, staticToken("t"), nil)
		err := client.Push(context.Background(), PushOp{OpID: "op-1"})
		require.Error(t, err, "status %d", tc.status)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, tc.status, statusErr.Code)
		assert.Equal(t, tc.auth, statusErr.IsAuth(), "IsAuth for %d", tc.status)
		assert.Equal(t, tc.conflict, statusErr.IsConflict(), "IsConflict for %d", tc.status)
		assert.Equal(t, tc.retryable, statusErr.IsRetryable(), "IsRetryable for %d", tc.status)
		assert.JSONEq(t, `{"error":"nope"}`, string(statusErr.Body), "body retained for conflict resolution")

		srv.Close()
	}
}

func TestPullDecodesRecordArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/sync/lists", r.URL.Path)
		w.Write([]byte(`[{"id":"l1"},{"id":"l2"}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, staticToken("t"), nil)
	records, err := client.Pull(context.Background(), "lists")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.JSONEq(t, `{"id":"l1"}`, string(records[0]))
}

func TestPullRejectsMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, staticToken("t"), nil)
	_, err := client.Pull(context.Background(), "lists")
	require.Error(t, err)
}

func TestPushResourceUsesPut(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, staticToken("t"), nil)
	err := client.PushResource(context.Background(), "streak",
		map[string]interface{}{"id": "global", "current": 4})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/sync/streak", gotPath)
	assert.JSONEq(t, `{"id":"global","current":4}`, gotBody)
}

func TestTokenFailureAbortsBeforeSending(t *testing.T) {
	sent := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, func(ctx context.Context) (string, error) {
		return "", errors.New("session expired")
	}, nil)

	err := client.Push(context.Background(), PushOp{OpID: "op-1"})
	require.Error(t, err)
	assert.False(t, sent, "no request leaves without credentials")
}

func TestContextCancellationStopsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(srv.URL, staticToken("t"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Push(ctx, PushOp{OpID: "op-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
