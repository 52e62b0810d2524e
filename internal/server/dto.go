package server

import (
	"adoptline/internal/domain"
	"adoptline/internal/engine"
)

// Request payloads

type PublishAnimalRequest struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	Species    string            `json:"species,omitempty"`
	Breed      string            `json:"breed,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type CreateAdoptionRequest struct {
	Answers []domain.Answer `json:"answers,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CancelHandoverRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ConfirmRequest struct {
	// AnimalID, when set, must match the request's animal.
	AnimalID string                 `json:"animal_id,omitempty"`
	Delivery domain.DeliveryDetails `json:"delivery,omitempty"`
}

type BackfillRequest struct {
	Limit int `json:"limit,omitempty" minimum:"0"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
	Source      string   `json:"source"`
}

type CreateRequestResponse struct {
	Request domain.AdoptionRequest `json:"request"`
	Created bool                   `json:"created"`
}

type HandoverResponse struct {
	Request domain.AdoptionRequest `json:"request"`
	Animal  domain.Animal          `json:"animal"`
}

type AnimalList struct {
	Items []domain.Animal `json:"items"`
}

type RequestList struct {
	Items []domain.AdoptionRequest `json:"items"`
}

type HistoryList struct {
	Items []domain.HistoryEntry `json:"items"`
}

type EventList struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type PendingCountResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Count  int    `json:"count"`
}

type ConfirmResponse = engine.ConfirmResult

type BackfillResponse = engine.BackfillReport

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
