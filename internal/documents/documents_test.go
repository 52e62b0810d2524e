package documents

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adoptline/internal/domain"
)

func sampleAgreement() AgreementDocument {
	return AgreementDocument{
		RequestID:  "req-1",
		AnimalID:   "a1",
		AnimalName: "Biscuit",
		Species:    "dog",
		Owner:      Party{ID: "u1", DisplayName: "Olga", Contact: "olga@example.com"},
		Adopter:    Party{ID: "u2", DisplayName: "Ari"},
		Answers:    []domain.Answer{{Question: "Garden?", Answer: "yes"}},
		ApprovedAt: "2024-01-01T00:00:00Z",
	}
}

func sampleReceipt() ReceiptDocument {
	return ReceiptDocument{
		RequestID:            "req-1",
		AnimalID:             "a1",
		AnimalName:           "Biscuit",
		PreviousOwner:        Party{ID: "u1", DisplayName: "Olga"},
		Adopter:              Party{ID: "u2", DisplayName: "Ari", Contact: "+100"},
		Delivery:             domain.DeliveryDetails{Location: "Main St 1", Checklist: []string{"leash", "vaccination card"}, Notes: "shy at first"},
		OwnerConfirmedAt:     "2024-01-02T00:00:00Z",
		ApplicantConfirmedAt: "2024-01-02T01:00:00Z",
		CompletedAt:          "2024-01-02T01:00:00Z",
	}
}

func TestTemplateGenerator(t *testing.T) {
	g := NewTemplateGenerator()
	out, err := g.Generate(context.Background(), sampleAgreement())
	require.NoError(t, err)
	text := string(out)
	assert.True(t, strings.HasPrefix(text, "ADOPTION AGREEMENT"))
	assert.Contains(t, text, "Biscuit (a1), dog")
	assert.Contains(t, text, "Olga <olga@example.com>")
	assert.Contains(t, text, "Garden?: yes")

	out, err = g.Generate(context.Background(), sampleReceipt())
	require.NoError(t, err)
	text = string(out)
	assert.Contains(t, text, "New owner: Ari <+100>")
	assert.Contains(t, text, "Location: Main St 1")
	assert.Contains(t, text, "[x] vaccination card")
	assert.Contains(t, text, "Notes: shy at first")
	assert.NotContains(t, text, "Photos:")
}

func TestFSStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, "")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "receipts/req-1.txt", []byte("v1"), TextContentType)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	_, err = s.Put(context.Background(), "receipts/req-1.txt", []byte("v2"), TextContentType)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "receipts", "req-1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = s.Put(context.Background(), "../escape.txt", []byte("x"), "")
	require.Error(t, err)
	_, err = s.Put(context.Background(), "/abs.txt", []byte("x"), "")
	require.Error(t, err)

	s.BaseURL = "https://files.example.com/"
	url, err = s.Put(context.Background(), "agreements/req-1.txt", []byte("a"), "")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/agreements/req-1.txt", url)
}

type recordingS3 struct {
	mu          sync.Mutex
	paths       []string
	bodies      []string
	contentType string
}

func (r *recordingS3) RoundTrip(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.paths = append(r.paths, req.Method+" "+req.URL.Path)
	r.bodies = append(r.bodies, string(body))
	r.contentType = req.Header.Get("Content-Type")
	r.mu.Unlock()
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Header: http.Header{"ETag": {"\"etag\""}}}, nil
}

func TestS3Store(t *testing.T) {
	rt := &recordingS3{}
	s, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "docs",
		Region:          "us-east-1",
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "adoptions/agreements/req-1.txt", []byte("hello"), TextContentType)
	require.NoError(t, err)
	assert.Equal(t, "https://mock.s3.local/docs/adoptions/agreements/req-1.txt", url)
	require.Len(t, rt.paths, 1)
	assert.Equal(t, "PUT /docs/adoptions/agreements/req-1.txt", rt.paths[0])
	assert.Contains(t, rt.bodies[0], "hello")
	assert.Equal(t, TextContentType, rt.contentType)

	_, err = NewS3Store(context.Background(), S3Config{})
	require.Error(t, err)
}

type memStore struct{ puts map[string]string }

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if m.puts == nil {
		m.puts = map[string]string{}
	}
	m.puts[key] = string(data)
	return "mem://" + key, nil
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, Document) ([]byte, error) {
	return nil, errors.New("renderer offline")
}

func TestServiceIssue(t *testing.T) {
	store := &memStore{}
	svc := NewService(NewTemplateGenerator(), store, "/adoptions/")

	url, err := svc.Issue(context.Background(), sampleAgreement())
	require.NoError(t, err)
	assert.Equal(t, "mem://adoptions/agreements/req-1.txt", url)
	assert.Contains(t, store.puts["adoptions/agreements/req-1.txt"], "ADOPTION AGREEMENT")

	_, err = svc.Issue(context.Background(), ReceiptDocument{RequestID: "req-2"})
	require.ErrorIs(t, err, ErrInvalidDocument)

	svc.Generator = failingGenerator{}
	_, err = svc.Issue(context.Background(), sampleReceipt())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate receipt")
}
