package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adoptline/internal/domain"
	"adoptline/internal/engine"
	"adoptline/internal/engine/auth"
	"adoptline/internal/metrics"
	"adoptline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Metrics, when set, is exposed on /metrics.
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"animal_not_available"`
	Message string         `json:"message" example:"animal not available"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type output[T any] struct {
	Body T
}

// New returns an HTTP handler exposing the adoption API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Log == nil {
		cfg.Auth.Log = cfg.Log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	hcfg := huma.DefaultConfig("Adoptline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerAnimals(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerHandover(group, cfg.Engine)
	registerDelivery(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors to stable codes clients can localize.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, auth.ErrActorRequired):
		return newAPIError(http.StatusUnauthorized, "unauthorized", msg, nil)
	case errors.Is(err, engine.ErrAnimalNotFound):
		return newAPIError(http.StatusNotFound, "animal_not_found", msg, nil)
	case errors.Is(err, engine.ErrRequestNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrAnimalNotAvailable):
		return newAPIError(http.StatusConflict, "animal_not_available", msg, nil)
	case errors.Is(err, engine.ErrSelfAdoption):
		return newAPIError(http.StatusUnprocessableEntity, "self_adoption", msg, nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", "concurrent update, please retry", nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, engine.ErrDocumentsDisabled):
		return newAPIError(http.StatusServiceUnavailable, "documents_disabled", msg, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var commonErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["actorHeader"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Actor-Id",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"actorHeader": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Adoptline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return &output[map[string]string]{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[WhoAmIResponse], error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		user := e.User(ctx, principal.ActorID)
		return &output[WhoAmIResponse]{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			DisplayName: user.DisplayName,
			Roles:       nonNil(principal.Roles),
			Source:      principal.Source,
		}}, nil
	})
}

type animalPath struct {
	AnimalID string `path:"animal_id"`
}

type requestPath struct {
	RequestID string `path:"request_id"`
}

func registerAnimals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "publish-animal",
		Method:        http.MethodPost,
		Path:          "/animals",
		Summary:       "Publish an animal for adoption",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body PublishAnimalRequest
	}) (*output[domain.Animal], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.PublishAnimal(ctx, engine.PublishAnimalOptions{
			ID:         input.Body.ID,
			OwnerID:    actorID,
			Name:       input.Body.Name,
			Species:    input.Body.Species,
			Breed:      input.Body.Breed,
			Attributes: input.Body.Attributes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &output[domain.Animal]{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-animals",
		Method:      http.MethodGet,
		Path:        "/animals",
		Summary:     "List animals",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		OwnerID string `query:"owner_id"`
		Status  string `query:"status" enum:"available,reserved,handover_pending,adopted,under_review,rejected"`
	}) (*output[AnimalList], error) {
		items, err := e.ListAnimals(ctx, input.OwnerID, domain.CustodyStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &output[AnimalList]{Body: AnimalList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-animal",
		Method:      http.MethodGet,
		Path:        "/animals/{animal_id}",
		Summary:     "Get animal",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *animalPath) (*output[domain.Animal], error) {
		a, err := e.GetAnimal(ctx, input.AnimalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[domain.Animal]{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-animal-requests",
		Method:      http.MethodGet,
		Path:        "/animals/{animal_id}/requests",
		Summary:     "List the requests submitted for an animal",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *animalPath) (*output[RequestList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAnimal(ctx, input.AnimalID)
		if err != nil {
			return nil, handleError(err)
		}
		if a.OwnerID != actorID {
			return nil, handleError(auth.ForbiddenError{Action: "animal.requests.list", ActorID: actorID})
		}
		items, err := e.ListRequestsForAnimal(ctx, input.AnimalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[RequestList]{Body: RequestList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-request",
		Method:      http.MethodPost,
		Path:        "/animals/{animal_id}/requests",
		Summary:     "Request to adopt an animal",
		Description: "Repeating the call returns the existing request with status 200.",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		AnimalID string                 `path:"animal_id"`
		Body     *CreateAdoptionRequest `required:"false"`
	}) (*struct {
		Status int
		Body   CreateRequestResponse
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateRequestOptions{AnimalID: input.AnimalID, ApplicantID: actorID}
		if input.Body != nil {
			opts.Answers = input.Body.Answers
		}
		req, created, err := e.CreateRequest(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &struct {
			Status int
			Body   CreateRequestResponse
		}{Status: status, Body: CreateRequestResponse{Request: req, Created: created}}, nil
	})
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-my-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests the current user submitted or received",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Role   string `query:"role" enum:"applicant,owner,any"`
		Status string `query:"status" enum:"pending,approved,rejected,completed"`
	}) (*output[RequestList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := engine.ParseRole(input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListRequestsForUser(ctx, actorID, role, domain.RequestStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &output[RequestList]{Body: RequestList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-count",
		Method:      http.MethodGet,
		Path:        "/requests/pending-count",
		Summary:     "Count pending requests for badges",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"applicant,owner,any"`
	}) (*output[PendingCountResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := engine.ParseRole(input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		n, err := e.PendingCount(ctx, actorID, role)
		if err != nil {
			return nil, handleError(err)
		}
		label := string(role)
		if label == "" {
			label = "any"
		}
		return &output[PendingCountResponse]{Body: PendingCountResponse{UserID: actorID, Role: label, Count: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}",
		Summary:     "Get request",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *requestPath) (*output[domain.AdoptionRequest], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.GetRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		if actorID != req.OwnerID && actorID != req.ApplicantID {
			return nil, handleError(auth.ForbiddenError{Action: "request.read", ActorID: actorID})
		}
		return &output[domain.AdoptionRequest]{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/approve",
		Summary:     "Approve a pending request",
		Description: "Reserves the animal and rejects every other pending request for it.",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *requestPath) (*output[domain.AdoptionRequest], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.ApproveRequest(ctx, input.RequestID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[domain.AdoptionRequest]{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/reject",
		Summary:     "Reject a pending request",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		RequestID string         `path:"request_id"`
		Body      *RejectRequest `required:"false"`
	}) (*output[domain.AdoptionRequest], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		req, err := e.RejectRequest(ctx, input.RequestID, actorID, reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[domain.AdoptionRequest]{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/finalize",
		Summary:     "Finalize an adoption both parties confirmed",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *requestPath) (*output[ConfirmResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Finalize(ctx, input.RequestID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[ConfirmResponse]{Body: res}, nil
	})
}

func registerHandover(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "initiate-handover",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/handover",
		Summary:     "Stage the handover of an animal to the request's applicant",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *requestPath) (*output[HandoverResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, animal, err := e.InitiateHandover(ctx, input.RequestID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[HandoverResponse]{Body: HandoverResponse{Request: req, Animal: animal}}, nil
	})

	type confirmInput struct {
		AnimalID string          `path:"animal_id"`
		Body     *ConfirmRequest `required:"false"`
	}
	delivery := func(in *confirmInput) domain.DeliveryDetails {
		if in.Body == nil {
			return domain.DeliveryDetails{}
		}
		return in.Body.Delivery
	}

	huma.Register(api, huma.Operation{
		OperationID: "confirm-handover-owner",
		Method:      http.MethodPost,
		Path:        "/animals/{animal_id}/handover/confirm-owner",
		Summary:     "Owner confirms handing the animal over",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *confirmInput) (*output[ConfirmResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ConfirmHandoverByOwner(ctx, input.AnimalID, actorID, delivery(input))
		if err != nil {
			return nil, handleError(err)
		}
		return &output[ConfirmResponse]{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-handover-receipt",
		Method:      http.MethodPost,
		Path:        "/animals/{animal_id}/handover/confirm-receipt",
		Summary:     "Applicant confirms receiving the animal",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *confirmInput) (*output[ConfirmResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ConfirmReceiptByApplicant(ctx, input.AnimalID, actorID, delivery(input))
		if err != nil {
			return nil, handleError(err)
		}
		return &output[ConfirmResponse]{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-handover",
		Method:      http.MethodPost,
		Path:        "/animals/{animal_id}/handover/cancel",
		Summary:     "Return a reserved animal to available",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		AnimalID string                 `path:"animal_id"`
		Body     *CancelHandoverRequest `required:"false"`
	}) (*output[domain.Animal], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		a, err := e.CancelHandover(ctx, input.AnimalID, actorID, reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[domain.Animal]{Body: a}, nil
	})
}

func registerDelivery(api huma.API, e engine.Engine) {
	type deliveryInput struct {
		RequestID string          `path:"request_id"`
		Body      *ConfirmRequest `required:"false"`
	}
	type confirmFunc func(ctx context.Context, requestID, animalID, actorID string, details domain.DeliveryDetails) (engine.ConfirmResult, error)
	handler := func(confirm confirmFunc) func(context.Context, *deliveryInput) (*output[ConfirmResponse], error) {
		return func(ctx context.Context, input *deliveryInput) (*output[ConfirmResponse], error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			var body ConfirmRequest
			if input.Body != nil {
				body = *input.Body
			}
			res, err := confirm(ctx, input.RequestID, body.AnimalID, actorID, body.Delivery)
			if err != nil {
				return nil, handleError(err)
			}
			return &output[ConfirmResponse]{Body: res}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "confirm-delivery-owner",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/delivery/confirm-owner",
		Summary:     "Owner confirms delivery of an approved request",
		Errors:      commonErrors,
	}, handler(e.ConfirmDeliveryAsOwner))

	huma.Register(api, huma.Operation{
		OperationID: "confirm-delivery-adopter",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/delivery/confirm-adopter",
		Summary:     "Adopter confirms delivery of an approved request",
		Errors:      commonErrors,
	}, handler(e.ConfirmDeliveryAsAdopter))
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "List completed adoptions",
		Description: "Defaults to adoptions the current user took part in.",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		AnimalID string `query:"animal_id"`
		UserID   string `query:"user_id"`
	}) (*output[HistoryList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		userID := input.UserID
		if userID == "" && input.AnimalID == "" {
			userID = actorID
		}
		items, err := e.ListHistory(ctx, input.AnimalID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[HistoryList]{Body: HistoryList{Items: nonNil(items)}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Description: "With entity_kind and entity_id returns that entity's latest events; otherwise pages forward from cursor.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind" enum:"animal,request"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*output[EventList], error) {
		limit := normalizeLimit(input.Limit)
		if input.EntityID != "" {
			if input.EntityKind == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "entity_kind is required with entity_id", nil)
			}
			items, err := e.LatestEvents(ctx, input.EntityKind, input.EntityID, limit)
			if err != nil {
				return nil, handleError(err)
			}
			return &output[EventList]{Body: EventList{Items: nonNil(items)}}, nil
		}
		var after int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			after = parsed
		}
		items, err := e.EventsAfter(ctx, after, limit)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventList{Items: nonNil(items)}
		if len(items) == limit {
			resp.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		return &output[EventList]{Body: resp}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "backfill-documents",
		Method:      http.MethodPost,
		Path:        "/documents/backfill",
		Summary:     "Regenerate missing agreements and receipts",
		Description: "Requires the admin role.",
		Errors:      append(commonErrors, http.StatusServiceUnavailable),
	}, func(ctx context.Context, input *struct {
		Body *BackfillRequest `required:"false"`
	}) (*output[BackfillResponse], error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.HasRole("admin") {
			return nil, handleError(auth.ForbiddenError{Action: "documents.backfill", ActorID: principal.ActorID})
		}
		limit := 0
		if input.Body != nil {
			limit = input.Body.Limit
		}
		report, err := e.BackfillDocuments(ctx, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &output[BackfillResponse]{Body: report}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*output[DevLoginResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, input.Body.Roles, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &output[DevLoginResponse]{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
