package adoptlinesdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	Method string
	Path   string
	Query  string
	Actor  string
	Authz  string
	Body   map[string]any
}

func fakeAPI(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Method, got.Path, got.Query = r.Method, r.URL.Path, r.URL.RawQuery
		got.Actor, got.Authz = r.Header.Get("X-Actor-Id"), r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		got.Body = nil
		if len(data) > 0 {
			_ = json.Unmarshal(data, &got.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestCreateRequestSendsAnswers(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusCreated, `{"request":{"id":"r1","status":"pending","animal_id":"A1"},"created":true}`)
	c := New(srv.URL).As("U2")

	req, created, err := c.CreateRequest(context.Background(), "A1", []Answer{{Question: "Garden?", Answer: "yes"}})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "r1", req.ID)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/v0/animals/A1/requests", got.Path)
	assert.Equal(t, "U2", got.Actor)
	require.Len(t, got.Body["answers"], 1)
}

func TestBearerTokenWins(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusOK, `{"items":[],"next_cursor":""}`)
	c := New(srv.URL)
	c.ActorID = "ignored"
	c.BearerToken = "tok"

	_, err := c.EventsPage(context.Background(), 10, "42")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", got.Authz)
	assert.Empty(t, got.Actor)
	assert.Equal(t, "/v0/events", got.Path)
	assert.Equal(t, "cursor=42&limit=10", got.Query)
}

func TestConfirmDeliveryPayload(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusOK, `{"finalized":true,"request":{"id":"r1","status":"completed"},"animal":{"id":"A1","custody_status":"adopted"}}`)
	c := New(srv.URL).As("owner")

	res, err := c.ConfirmDeliveryOwner(context.Background(), "r1", "A1", Delivery{Location: "Park"})
	require.NoError(t, err)
	assert.True(t, res.Finalized)
	assert.Equal(t, "adopted", res.Animal.CustodyStatus)
	assert.Equal(t, "/v0/requests/r1/delivery/confirm-owner", got.Path)
	assert.Equal(t, "A1", got.Body["animal_id"])
	assert.Equal(t, map[string]any{"location": "Park"}, got.Body["delivery"])
}

func TestAPIErrorCarriesCode(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusConflict, `{"error":{"code":"animal_not_available","message":"animal not available"}}`)
	c := New(srv.URL).As("U3")

	_, _, err := c.CreateRequest(context.Background(), "A1", nil)
	require.Error(t, err)
	assert.Equal(t, "animal_not_available", ErrorCode(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestListRequestsQuery(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusOK, `{"items":[{"id":"r1"},{"id":"r2"}]}`)
	c := New(srv.URL).As("owner")

	items, err := c.ListRequests(context.Background(), "owner", "pending")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "role=owner&status=pending", got.Query)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Nil(t, got.Body)
}
