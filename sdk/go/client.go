package adoptlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal adoptline HTTP API client. Requests authenticate with
// BearerToken when set, otherwise with ActorID through X-Actor-Id.
type Client struct {
	BaseURL     string
	BasePath    string
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// As returns a copy of the client acting as actorID.
func (c *Client) As(actorID string) *Client {
	cp := *c
	cp.ActorID = actorID
	cp.BearerToken = ""
	return &cp
}

type Animal struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	CustodyStatus string            `json:"custody_status"`
	Handover      *Handover         `json:"handover,omitempty"`
	Name          string            `json:"name"`
	Species       string            `json:"species,omitempty"`
	Breed         string            `json:"breed,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	AdoptedAt     *string           `json:"adopted_at,omitempty"`
	Version       int64             `json:"version"`
}

type Handover struct {
	SelectedApplicantID       string `json:"selected_applicant_id"`
	OwnerConfirmedHandover    bool   `json:"owner_confirmed_handover"`
	ApplicantConfirmedReceipt bool   `json:"applicant_confirmed_receipt"`
}

type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Delivery struct {
	Location  string   `json:"location,omitempty"`
	Checklist []string `json:"checklist,omitempty"`
	PhotoURLs []string `json:"photo_urls,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

type Request struct {
	ID                           string    `json:"id"`
	AnimalID                     string    `json:"animal_id"`
	ApplicantID                  string    `json:"applicant_id"`
	OwnerID                      string    `json:"owner_id"`
	Status                       string    `json:"status"`
	Answers                      []Answer  `json:"answers,omitempty"`
	RejectionReason              string    `json:"rejection_reason,omitempty"`
	OwnerDeliveryConfirmedAt     *string   `json:"owner_delivery_confirmed_at,omitempty"`
	ApplicantDeliveryConfirmedAt *string   `json:"applicant_delivery_confirmed_at,omitempty"`
	Delivery                     *Delivery `json:"delivery,omitempty"`
	AgreementURL                 *string   `json:"agreement_url,omitempty"`
	ReceiptURL                   *string   `json:"receipt_url,omitempty"`
	CreatedAt                    string    `json:"created_at"`
	UpdatedAt                    string    `json:"updated_at"`
}

// Confirmation reports the handshake state after a confirmation call.
type Confirmation struct {
	Request          Request `json:"request"`
	Animal           Animal  `json:"animal"`
	Finalized        bool    `json:"finalized"`
	AlreadyCompleted bool    `json:"already_completed"`
	WaitingOn        string  `json:"waiting_on,omitempty"`
}

type HistoryEntry struct {
	ID                   string  `json:"id"`
	RequestID            string  `json:"request_id"`
	AnimalID             string  `json:"animal_id"`
	PreviousOwnerID      string  `json:"previous_owner_id"`
	AdopterID            string  `json:"adopter_id"`
	CompletedAt          string  `json:"completed_at"`
	OwnerConfirmedAt     string  `json:"owner_confirmed_at"`
	ApplicantConfirmedAt string  `json:"applicant_confirmed_at"`
	ReceiptURL           *string `json:"receipt_url,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the stable error identifier,
// e.g. animal_not_available.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the API error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

type PublishAnimalInput struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	Species    string            `json:"species,omitempty"`
	Breed      string            `json:"breed,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// PublishAnimal lists an animal owned by the acting user.
func (c *Client) PublishAnimal(ctx context.Context, in PublishAnimalInput) (Animal, error) {
	var resp Animal
	err := c.do(ctx, http.MethodPost, "animals", in, &resp)
	return resp, err
}

func (c *Client) GetAnimal(ctx context.Context, animalID string) (Animal, error) {
	var resp Animal
	err := c.do(ctx, http.MethodGet, "animals/"+url.PathEscape(animalID), nil, &resp)
	return resp, err
}

// ListAnimals filters by owner and custody status; empty values match all.
func (c *Client) ListAnimals(ctx context.Context, ownerID, status string) ([]Animal, error) {
	q := url.Values{}
	setIf(q, "owner_id", ownerID)
	setIf(q, "status", status)
	var resp struct {
		Items []Animal `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("animals", q), nil, &resp)
	return resp.Items, err
}

// CreateRequest submits an adoption request. created is false when the
// acting user had already requested the animal.
func (c *Client) CreateRequest(ctx context.Context, animalID string, answers []Answer) (req Request, created bool, err error) {
	var resp struct {
		Request Request `json:"request"`
		Created bool    `json:"created"`
	}
	err = c.do(ctx, http.MethodPost, "animals/"+url.PathEscape(animalID)+"/requests", map[string]any{"answers": answers}, &resp)
	return resp.Request, resp.Created, err
}

func (c *Client) GetRequest(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, requestPath(requestID, ""), nil, &resp)
	return resp, err
}

// ListRequests lists the acting user's requests. role is applicant, owner
// or empty for both.
func (c *Client) ListRequests(ctx context.Context, role, status string) ([]Request, error) {
	q := url.Values{}
	setIf(q, "role", role)
	setIf(q, "status", status)
	var resp struct {
		Items []Request `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("requests", q), nil, &resp)
	return resp.Items, err
}

func (c *Client) ListAnimalRequests(ctx context.Context, animalID string) ([]Request, error) {
	var resp struct {
		Items []Request `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "animals/"+url.PathEscape(animalID)+"/requests", nil, &resp)
	return resp.Items, err
}

func (c *Client) PendingCount(ctx context.Context, role string) (int, error) {
	q := url.Values{}
	setIf(q, "role", role)
	var resp struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("requests/pending-count", q), nil, &resp)
	return resp.Count, err
}

func (c *Client) Approve(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "approve"), nil, &resp)
	return resp, err
}

func (c *Client) Reject(ctx context.Context, requestID, reason string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "reject"), map[string]string{"reason": reason}, &resp)
	return resp, err
}

// InitiateHandover stages delivery of the animal to the request's applicant.
func (c *Client) InitiateHandover(ctx context.Context, requestID string) (Request, Animal, error) {
	var resp struct {
		Request Request `json:"request"`
		Animal  Animal  `json:"animal"`
	}
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "handover"), nil, &resp)
	return resp.Request, resp.Animal, err
}

func (c *Client) ConfirmHandoverOwner(ctx context.Context, animalID string, d Delivery) (Confirmation, error) {
	var resp Confirmation
	err := c.do(ctx, http.MethodPost, "animals/"+url.PathEscape(animalID)+"/handover/confirm-owner", map[string]any{"delivery": d}, &resp)
	return resp, err
}

func (c *Client) ConfirmReceipt(ctx context.Context, animalID string, d Delivery) (Confirmation, error) {
	var resp Confirmation
	err := c.do(ctx, http.MethodPost, "animals/"+url.PathEscape(animalID)+"/handover/confirm-receipt", map[string]any{"delivery": d}, &resp)
	return resp, err
}

func (c *Client) CancelHandover(ctx context.Context, animalID, reason string) (Animal, error) {
	var resp Animal
	err := c.do(ctx, http.MethodPost, "animals/"+url.PathEscape(animalID)+"/handover/cancel", map[string]string{"reason": reason}, &resp)
	return resp, err
}

func (c *Client) ConfirmDeliveryOwner(ctx context.Context, requestID, animalID string, d Delivery) (Confirmation, error) {
	var resp Confirmation
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "delivery/confirm-owner"), map[string]any{"animal_id": animalID, "delivery": d}, &resp)
	return resp, err
}

func (c *Client) ConfirmDeliveryAdopter(ctx context.Context, requestID, animalID string, d Delivery) (Confirmation, error) {
	var resp Confirmation
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "delivery/confirm-adopter"), map[string]any{"animal_id": animalID, "delivery": d}, &resp)
	return resp, err
}

func (c *Client) Finalize(ctx context.Context, requestID string) (Confirmation, error) {
	var resp Confirmation
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "finalize"), nil, &resp)
	return resp, err
}

// History lists completed adoptions. With both filters empty the server
// returns the acting user's adoptions.
func (c *Client) History(ctx context.Context, animalID, userID string) ([]HistoryEntry, error) {
	q := url.Values{}
	setIf(q, "animal_id", animalID)
	setIf(q, "user_id", userID)
	var resp struct {
		Items []HistoryEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("history", q), nil, &resp)
	return resp.Items, err
}

// EventsPage pages forward through the event log.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	setIf(q, "cursor", cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func requestPath(id, action string) string {
	p := "requests/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
