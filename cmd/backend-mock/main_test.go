package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/publisherauthority/orderdesk/internal/auth"
	"github.com/publisherauthority/orderdesk/internal/lifecycle"
	"github.com/publisherauthority/orderdesk/internal/status"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func seededStore() *OrderStore {
	store := NewOrderStore()
	store.Seed([]string{"pub-1", "pub-2"})
	return store
}

func firstWithStatus(t *testing.T, store *OrderStore, publisherID string, s status.Status) string {
	t.Helper()
	orders := store.List(publisherID, string(s))
	require.NotEmpty(t, orders)
	return orders[0].ID
}

func TestSeedAndList(t *testing.T) {
	store := seededStore()

	assert.Len(t, store.List("", ""), 2*len(seedOrders))
	assert.Len(t, store.List("pub-1", ""), len(seedOrders))
	assert.Len(t, store.List("pub-1", "ready_to_post"), 1)

	orders := store.List("", "")
	for i := 1; i < len(orders); i++ {
		assert.False(t, orders[i].CreatedAt.After(orders[i-1].CreatedAt), "newest first")
	}
}

func TestApplyEnforcesLifecycle(t *testing.T) {
	store := seededStore()
	id := firstWithStatus(t, store, "pub-1", status.ReadyToPost)

	_, err := store.Apply(id, "pub-2", lifecycle.Publisher, lifecycle.Submit, lifecycle.Payload{URL: "https://x"})
	assert.ErrorIs(t, err, errNotFound, "other publishers cannot touch the order")

	_, err = store.Apply(id, "pub-1", lifecycle.Publisher, lifecycle.Submit, lifecycle.Payload{})
	assert.ErrorIs(t, err, errMissing)
	assert.ErrorIs(t, err, lifecycle.ErrMissingInput)

	order, err := store.Apply(id, "pub-1", lifecycle.Publisher, lifecycle.Submit, lifecycle.Payload{URL: "https://x/post", Notes: "live"})
	require.NoError(t, err)
	assert.Equal(t, "verifying", order.Status)
	assert.Equal(t, "https://x/post", order.SubmittedURL)
	assert.NotNil(t, order.SubmittedAt)

	_, err = store.Apply(id, "pub-1", lifecycle.Publisher, lifecycle.Submit, lifecycle.Payload{URL: "https://x/post"})
	assert.ErrorIs(t, err, errConflict)

	order, err = store.Apply(id, "", lifecycle.Admin, lifecycle.Complete, lifecycle.Payload{Notes: "looks good"})
	require.NoError(t, err)
	assert.Equal(t, "completed", order.Status)

	_, err = store.Apply(id, "", lifecycle.Admin, lifecycle.Cancel, lifecycle.Payload{Reason: "late"})
	assert.ErrorIs(t, err, errConflict, "completed is terminal")
}

func TestActionForStatus(t *testing.T) {
	a, ok := actionForStatus("revision_requested")
	assert.True(t, ok)
	assert.Equal(t, lifecycle.RequestRevision, a)

	_, ok = actionForStatus("verifying")
	assert.False(t, ok)
}

func request(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterFlow(t *testing.T) {
	cfg := mockConfig{JWTSecret: "mock-secret"}
	store := seededStore()
	router := newRouter(store, cfg, testLogger())

	pubToken, err := auth.Sign(cfg.JWTSecret, "pub-1", lifecycle.Publisher, time.Hour)
	require.NoError(t, err)
	adminToken, err := auth.Sign(cfg.JWTSecret, "adm-1", lifecycle.Admin, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, request(t, router, http.MethodGet, "/orders", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, request(t, router, http.MethodGet, "/admin/orders", pubToken, nil).Code)

	rec := request(t, router, http.MethodGet, "/orders?publisherId=pub-2", pubToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data struct {
			Orders []map[string]any `json:"orders"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Data.Orders, len(seedOrders), "publishers only see their own orders")

	verifying := firstWithStatus(t, store, "pub-1", status.Verifying)

	rec = request(t, router, http.MethodPut, "/admin/orders/"+verifying+"/status", adminToken,
		map[string]string{"status": "revision-requested"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "revision needs a reason")

	rec = request(t, router, http.MethodPut, "/admin/orders/"+verifying+"/status", adminToken,
		map[string]string{"status": "revision-requested", "notes": "wrong anchor"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(t, router, http.MethodPut, "/admin/orders/"+verifying+"/status", adminToken,
		map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = request(t, router, http.MethodPost, "/orders/"+verifying+"/submit", pubToken,
		map[string]string{"submittedUrl": "https://site/fixed"})
	require.Equal(t, http.StatusOK, rec.Code)

	order, err := store.Get(verifying, "")
	require.NoError(t, err)
	assert.Equal(t, "verifying", order.Status)
	assert.Equal(t, "wrong anchor", order.RevisionNotes)
}

func TestDevToken(t *testing.T) {
	cfg := mockConfig{JWTSecret: "mock-secret"}
	router := newRouter(NewOrderStore(), cfg, testLogger())

	rec := request(t, router, http.MethodPost, "/auth/dev-token", "", map[string]string{"userId": "adm-1", "role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	session, err := auth.ParseToken(cfg.JWTSecret, body["token"])
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Admin, session.Actor)

	rec = request(t, router, http.MethodPost, "/auth/dev-token", "", map[string]string{"userId": "x", "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
