package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adoptline/internal/logging"
)

func TestStatic(t *testing.T) {
	d := Static{"u1": {DisplayName: "Ada", Contact: "ada@example.com"}}
	u, err := d.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u1", DisplayName: "Ada", Contact: "ada@example.com"}, u)

	_, err = d.GetUser(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/u1":
			_ = json.NewEncoder(w).Encode(User{DisplayName: "Ada", Contact: "+100"})
		case "/users/boom":
			http.Error(w, "down", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", 0)
	u, err := c.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "Ada", u.DisplayName)

	_, err = c.GetUser(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = c.GetUser(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type failingDirectory struct{}

func (failingDirectory) GetUser(context.Context, string) (User, error) {
	return User{}, errors.New("unreachable")
}

func TestWithFallback(t *testing.T) {
	d := WithFallback(failingDirectory{}, logging.Discard())
	u, err := d.GetUser(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u9", DisplayName: UnknownUser}, u)

	d = WithFallback(Static{"u1": {DisplayName: "Ada"}}, logging.Discard())
	u, err = d.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.DisplayName)
}

func TestLookup(t *testing.T) {
	d := Static{"owner": {DisplayName: "Olga"}, "adopter": {DisplayName: "Ari"}}
	users := Lookup(context.Background(), d, "owner", "adopter", "ghost", "owner")
	require.Len(t, users, 3)
	assert.Equal(t, "Olga", users["owner"].DisplayName)
	assert.Equal(t, "Ari", users["adopter"].DisplayName)
	assert.Equal(t, UnknownUser, users["ghost"].DisplayName)
}

type countingDirectory struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (c *countingDirectory) GetUser(ctx context.Context, id string) (User, error) {
	c.calls.Add(1)
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return User{ID: id, DisplayName: "name-" + id}, nil
}

func TestLookupBoundsConcurrency(t *testing.T) {
	d := &countingDirectory{}
	var ids []string
	for i := 0; i < 3*lookupConcurrency; i++ {
		ids = append(ids, fmt.Sprintf("u%d", i))
	}
	users := Lookup(context.Background(), d, ids...)
	require.Len(t, users, len(ids))
	for _, id := range ids {
		assert.Equal(t, "name-"+id, users[id].DisplayName)
	}
	assert.LessOrEqual(t, d.peak.Load(), int32(lookupConcurrency))
}

func TestLookupSkipsCallsWhenContextDone(t *testing.T) {
	d := &countingDirectory{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	users := Lookup(ctx, d, "owner", "adopter")
	require.Len(t, users, 2)
	assert.Equal(t, UnknownUser, users["owner"].DisplayName)
	assert.Equal(t, UnknownUser, users["adopter"].DisplayName)
	assert.Zero(t, d.calls.Load())
}
