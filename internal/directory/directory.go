// Package directory resolves user ids to the display data used in
// notifications and documents.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// UnknownUser is the display name used when a lookup fails.
const UnknownUser = "Unknown user"

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Contact     string `json:"contact" yaml:"contact"`
}

type Directory interface {
	GetUser(ctx context.Context, userID string) (User, error)
}

// Static serves users from an in-memory map, typically loaded from config.
type Static map[string]User

func (s Static) GetUser(_ context.Context, userID string) (User, error) {
	u, ok := s[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if u.ID == "" {
		u.ID = userID
	}
	return u, nil
}

// HTTPClient fetches users from GET {BaseURL}/users/{id}.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{BaseURL: baseURL, Timeout: timeout}
}

func (c *HTTPClient) GetUser(ctx context.Context, userID string) (User, error) {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return User{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return User{}, err
	}
	if res.StatusCode == http.StatusNotFound {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return User{}, fmt.Errorf("directory: status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return User{}, fmt.Errorf("directory: decode user: %w", err)
	}
	if u.ID == "" {
		u.ID = userID
	}
	return u, nil
}

type fallback struct {
	next Directory
	log  *slog.Logger
}

// WithFallback never fails: lookup errors are logged and replaced by a
// placeholder user carrying UnknownUser as display name.
func WithFallback(d Directory, log *slog.Logger) Directory {
	if log == nil {
		log = slog.Default()
	}
	return fallback{next: d, log: log}
}

func (f fallback) GetUser(ctx context.Context, userID string) (User, error) {
	if f.next == nil {
		return User{ID: userID, DisplayName: UnknownUser}, nil
	}
	u, err := f.next.GetUser(ctx, userID)
	if err != nil {
		f.log.WarnContext(ctx, "user lookup failed", "user_id", userID, "err", err)
		return User{ID: userID, DisplayName: UnknownUser}, nil
	}
	if u.DisplayName == "" {
		u.DisplayName = UnknownUser
	}
	return u, nil
}

// lookupConcurrency bounds the directory calls Lookup keeps in flight.
const lookupConcurrency = 4

// Lookup resolves several users concurrently. Ids that fail to resolve map
// to a placeholder user, so a failing directory never blocks a caller. Once
// ctx is done the remaining lookups are skipped.
func Lookup(ctx context.Context, d Directory, ids ...string) map[string]User {
	out := make(map[string]User, len(ids))
	var unique []string
	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		out[id] = User{ID: id, DisplayName: UnknownUser}
		unique = append(unique, id)
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for _, id := range unique {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			u, err := d.GetUser(gctx, id)
			if err != nil {
				// Only cancellation aborts the batch; a per-user failure keeps
				// the placeholder.
				return gctx.Err()
			}
			mu.Lock()
			out[id] = u
			mu.Unlock()
			return nil
		})
	}
	// The error is always a context error; the placeholders already cover
	// every id that was not resolved.
	_ = g.Wait()
	return out
}
