package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adoptline/internal/config"
	"adoptline/internal/db"
	"adoptline/internal/directory"
	"adoptline/internal/domain"
	"adoptline/internal/engine"
	"adoptline/internal/logging"
	"adoptline/internal/metrics"
	"adoptline/internal/migrate"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn, dialect))

	m := metrics.New()
	e := engine.New(conn, dialect, config.Default(), engine.Deps{
		Directory: directory.Static{"owner": {DisplayName: "Olga"}},
		Log:       logging.Discard(),
		Metrics:   m,
	})
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true, DevLogin: true},
		Metrics:  m,
		Log:      logging.Discard(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func as(actor string) map[string]string { return map[string]string{"X-Actor-Id": actor} }

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func TestAdoptionOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v0"

	res, data := doJSON(t, http.MethodPost, base+"/animals", map[string]any{"id": "A1", "name": "Biscuit", "species": "dog"}, as("owner"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, base+"/animals/A1/requests", map[string]any{
		"answers": []map[string]string{{"question": "Garden?", "answer": "yes"}},
	}, as("U2"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created CreateRequestResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.True(t, created.Created)
	assert.Equal(t, domain.RequestPending, created.Request.Status)
	reqID := created.Request.ID

	res, data = doJSON(t, http.MethodPost, base+"/animals/A1/requests", nil, as("U2"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &created))
	assert.False(t, created.Created)
	assert.Equal(t, reqID, created.Request.ID)

	res, data = doJSON(t, http.MethodGet, base+"/requests/pending-count?role=owner", nil, as("owner"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var count PendingCountResponse
	require.NoError(t, json.Unmarshal(data, &count))
	assert.Equal(t, 1, count.Count)

	res, data = doJSON(t, http.MethodPost, base+"/requests/"+reqID+"/approve", nil, as("U2"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", errorCode(t, data))

	res, data = doJSON(t, http.MethodPost, base+"/requests/"+reqID+"/finalize", nil, as("U3"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", errorCode(t, data))

	res, data = doJSON(t, http.MethodPost, base+"/requests/"+reqID+"/handover", nil, as("owner"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var handover HandoverResponse
	require.NoError(t, json.Unmarshal(data, &handover))
	assert.Equal(t, domain.CustodyHandoverPending, handover.Animal.CustodyStatus)

	res, data = doJSON(t, http.MethodPost, base+"/animals/A1/requests", nil, as("U3"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "animal_not_available", errorCode(t, data))

	res, data = doJSON(t, http.MethodPost, base+"/animals/A1/handover/confirm-owner", map[string]any{
		"delivery": map[string]any{"location": "Shelter"},
	}, as("owner"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var confirm ConfirmResponse
	require.NoError(t, json.Unmarshal(data, &confirm))
	assert.False(t, confirm.Finalized)
	assert.Equal(t, engine.PartyApplicant, confirm.WaitingOn)

	res, data = doJSON(t, http.MethodPost, base+"/animals/A1/handover/confirm-receipt", nil, as("U2"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &confirm))
	assert.True(t, confirm.Finalized)
	assert.Equal(t, "U2", confirm.Animal.OwnerID)
	assert.Equal(t, domain.CustodyAdopted, confirm.Animal.CustodyStatus)

	res, data = doJSON(t, http.MethodPost, base+"/animals/A1/handover/confirm-receipt", nil, as("U2"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &confirm))
	assert.True(t, confirm.AlreadyCompleted)
	assert.False(t, confirm.Finalized)

	res, data = doJSON(t, http.MethodGet, base+"/history", nil, as("U2"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var history HistoryList
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history.Items, 1)
	assert.Equal(t, "owner", history.Items[0].PreviousOwnerID)

	res, data = doJSON(t, http.MethodGet, base+"/events?entity_kind=request&entity_id="+reqID, nil, as("U2"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts EventList
	require.NoError(t, json.Unmarshal(data, &evts))
	assert.NotEmpty(t, evts.Items)
	assert.Equal(t, "request.created", evts.Items[0].Type)
}

func TestErrorCodes(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v0"

	res, data := doJSON(t, http.MethodGet, base+"/requests", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, http.MethodPost, base+"/animals/missing/requests", nil, as("U2"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "animal_not_found", errorCode(t, data))

	res, _ = doJSON(t, http.MethodPost, base+"/animals", map[string]any{"id": "A1", "name": "Biscuit"}, as("owner"))
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, data = doJSON(t, http.MethodPost, base+"/animals/A1/requests", nil, as("owner"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "self_adoption", errorCode(t, data))

	res, data = doJSON(t, http.MethodPost, base+"/requests/nope/approve", nil, as("owner"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", errorCode(t, data))

	res, data = doJSON(t, http.MethodPost, base+"/animals/A1/handover/confirm-owner", nil, as("owner"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "invalid_transition", errorCode(t, data))

	res, data = doJSON(t, http.MethodGet, base+"/events?cursor=abc", nil, as("owner"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "bad_request", errorCode(t, data))
}

func TestBearerAuthAndRoles(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/v0"

	res, data := doJSON(t, http.MethodPost, base+"/auth/dev/login", map[string]any{"actor_id": "owner"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	res, data = doJSON(t, http.MethodGet, base+"/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "owner", me.ActorID)
	assert.Equal(t, "Olga", me.DisplayName)
	assert.Equal(t, "jwt", me.Source)

	res, data = doJSON(t, http.MethodGet, base+"/me", nil, map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	res, data = doJSON(t, http.MethodPost, base+"/documents/backfill", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	admin, err := SignToken(testSecret, "ops", []string{"admin"}, time.Minute)
	require.NoError(t, err)
	res, data = doJSON(t, http.MethodPost, base+"/documents/backfill", map[string]any{"limit": 10}, map[string]string{"Authorization": "Bearer " + admin})
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode, string(data))
	assert.Equal(t, "documents_disabled", errorCode(t, data))
}

func TestPublicEndpoints(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var spec map[string]any
	require.NoError(t, json.Unmarshal(data, &spec))
	assert.Contains(t, spec["paths"], "/v0/requests/{request_id}/approve")

	doJSON(t, http.MethodGet, srv.URL+"/v0/animals", nil, as("owner"))
	res, data = doJSON(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "go_goroutines")
}
