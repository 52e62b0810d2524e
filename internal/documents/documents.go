// Package documents renders and stores the agreement and receipt artifacts
// produced around an adoption.
package documents

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"adoptline/internal/domain"
)

type Kind string

const (
	KindAgreement Kind = "agreement"
	KindReceipt   Kind = "receipt"
)

// Party is a participant as printed on a document.
type Party struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Contact     string `json:"contact,omitempty"`
}

// Document is implemented by AgreementDocument and ReceiptDocument only.
type Document interface {
	Kind() Kind
	// Key is the storage key, stable per request so regenerating overwrites.
	Key() string
	document()
}

// AgreementDocument is issued when a request is approved.
type AgreementDocument struct {
	RequestID  string
	AnimalID   string
	AnimalName string
	Species    string
	Breed      string
	Owner      Party
	Adopter    Party
	Answers    []domain.Answer
	ApprovedAt string
}

func (AgreementDocument) Kind() Kind    { return KindAgreement }
func (d AgreementDocument) Key() string { return path.Join("agreements", d.RequestID+".txt") }
func (AgreementDocument) document()     {}

// ReceiptDocument is issued when custody has been transferred.
type ReceiptDocument struct {
	RequestID            string
	AnimalID             string
	AnimalName           string
	PreviousOwner        Party
	Adopter              Party
	Delivery             domain.DeliveryDetails
	OwnerConfirmedAt     string
	ApplicantConfirmedAt string
	CompletedAt          string
}

func (ReceiptDocument) Kind() Kind    { return KindReceipt }
func (d ReceiptDocument) Key() string { return path.Join("receipts", d.RequestID+".txt") }
func (ReceiptDocument) document()     {}

type Generator interface {
	Generate(ctx context.Context, doc Document) ([]byte, error)
}

type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

var ErrInvalidDocument = errors.New("invalid document")

func validate(doc Document) error {
	switch d := doc.(type) {
	case AgreementDocument:
		if d.RequestID == "" || d.Owner.ID == "" || d.Adopter.ID == "" {
			return fmt.Errorf("%w: agreement needs request, owner and adopter", ErrInvalidDocument)
		}
	case ReceiptDocument:
		if d.RequestID == "" || d.PreviousOwner.ID == "" || d.Adopter.ID == "" || d.CompletedAt == "" {
			return fmt.Errorf("%w: receipt needs request, parties and completion time", ErrInvalidDocument)
		}
	case nil:
		return fmt.Errorf("%w: nil", ErrInvalidDocument)
	}
	return nil
}

// Service generates a document and stores it, returning the artifact URL.
type Service struct {
	Generator   Generator
	Store       Store
	Prefix      string
	ContentType string
}

func NewService(gen Generator, store Store, prefix string) *Service {
	return &Service{Generator: gen, Store: store, Prefix: prefix, ContentType: TextContentType}
}

func (s *Service) Issue(ctx context.Context, doc Document) (string, error) {
	if err := validate(doc); err != nil {
		return "", err
	}
	data, err := s.Generator.Generate(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", doc.Kind(), err)
	}
	key := doc.Key()
	if p := strings.Trim(s.Prefix, "/"); p != "" {
		key = p + "/" + key
	}
	ct := s.ContentType
	if ct == "" {
		ct = TextContentType
	}
	url, err := s.Store.Put(ctx, key, data, ct)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", doc.Kind(), err)
	}
	return url, nil
}
