package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
	"github.com/atvirokodosprendimai/permitapi/internal/core/usecase"
)

type ctxKey string

const (
	timeFormat             = "2006-01-02T15:04:05.999999999Z07:00"
	apiActorCtxKey  ctxKey = "api_actor"
	maxJSONBodySize        = 1 << 20
)

type Handler struct {
	permitService *usecase.PermitService
	authService   *usecase.AuthService
	audit         *usecase.AuditRecorder
	validator     *usecase.PermitValidator
	log           *logrus.Logger
}

func NewHandler(permitService *usecase.PermitService, authService *usecase.AuthService, audit *usecase.AuditRecorder, validator *usecase.PermitValidator, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{permitService: permitService, authService: authService, audit: audit, validator: validator, log: log}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)
		pr.Post("/v1/permits", h.createPermit)
		pr.Get("/v1/permits", h.listPermits)
		pr.Get("/v1/permits/{id}", h.getPermit)
		pr.Put("/v1/permits/{id}", h.updatePermit)
		pr.Delete("/v1/permits/{id}", h.deletePermit)
		pr.Post("/v1/permits/{id}/approve", h.approvePermit)
		pr.Post("/v1/permits/{id}/sign", h.signPermit)

		pr.Get("/v1/permits/{id}/audit-logs", h.permitAuditLogs)
		pr.Get("/v1/audit-logs", h.listAuditLogs)
		pr.Get("/v1/audit-logs/stats", h.auditStats)
	})

	return r
}

type permitRequest struct {
	PermitNumber   string              `json:"permit_number"`
	Type           string              `json:"type"`
	Status         string              `json:"status"`
	ApplicantName  string              `json:"applicant_name"`
	ApplicantEmail string              `json:"applicant_email"`
	Location       string              `json:"location"`
	Position       *domain.MapPosition `json:"position"`
	Description    string              `json:"description"`
	ValidFrom      *string             `json:"valid_from"`
	ValidUntil     *string             `json:"valid_until"`
	Tags           []string            `json:"tags"`
	Notes          string              `json:"notes"`
}

type permitResponse struct {
	ID             uint64              `json:"id"`
	PermitNumber   string              `json:"permit_number"`
	Type           string              `json:"type"`
	Status         string              `json:"status"`
	ApplicantName  string              `json:"applicant_name"`
	ApplicantEmail string              `json:"applicant_email,omitempty"`
	Location       string              `json:"location,omitempty"`
	Position       *domain.MapPosition `json:"position,omitempty"`
	Description    string              `json:"description,omitempty"`
	ValidFrom      *string             `json:"valid_from,omitempty"`
	ValidUntil     *string             `json:"valid_until,omitempty"`
	Tags           []string            `json:"tags,omitempty"`
	Notes          string              `json:"notes,omitempty"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

type auditEntryResponse struct {
	ID          int64          `json:"id"`
	PermitID    uint64         `json:"permit_id"`
	UserID      string         `json:"user_id"`
	ActionType  string         `json:"action_type"`
	ActionLabel string         `json:"action_label"`
	FieldName   *string        `json:"field_name"`
	OldValue    *string        `json:"old_value"`
	NewValue    *string        `json:"new_value"`
	IPAddress   string         `json:"ip_address,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

type auditStatsResponse struct {
	TotalLogs     int64                 `json:"total_logs"`
	TodayLogs     int64                 `json:"today_logs"`
	RecentActions []actionCountResponse `json:"recent_actions"`
}

type actionCountResponse struct {
	ActionType string `json:"action_type"`
	Label      string `json:"label"`
	Count      int64  `json:"count"`
}

func (h *Handler) createPermit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePermitRequest(w, r)
	if !ok {
		return
	}
	permit, ok := permitFromRequest(w, req)
	if !ok {
		return
	}

	created, err := h.permitService.Create(r.Context(), permit, auditContextFromRequest(r), mutationMetadataFromRequest(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPermitResponse(created))
}

func (h *Handler) updatePermit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodePermitRequest(w, r)
	if !ok {
		return
	}
	permit, ok := permitFromRequest(w, req)
	if !ok {
		return
	}

	updated, err := h.permitService.Update(r.Context(), id, permit, auditContextFromRequest(r), mutationMetadataFromRequest(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPermitResponse(updated))
}

func (h *Handler) getPermit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	permit, err := h.permitService.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPermitResponse(permit))
}

func (h *Handler) deletePermit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	deleted, err := h.permitService.Delete(r.Context(), id, auditContextFromRequest(r), mutationMetadataFromRequest(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *Handler) listPermits(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseIntParam(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := parseIntParam(w, r, "offset")
	if !ok {
		return
	}

	permits, err := h.permitService.List(r.Context(), domain.PermitListFilter{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]permitResponse, 0, len(permits))
	for _, permit := range permits {
		result = append(result, toPermitResponse(permit))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *Handler) approvePermit(w http.ResponseWriter, r *http.Request) {
	h.transitionPermit(w, r, h.permitService.Approve)
}

func (h *Handler) signPermit(w http.ResponseWriter, r *http.Request) {
	h.transitionPermit(w, r, h.permitService.Sign)
}

func (h *Handler) transitionPermit(w http.ResponseWriter, r *http.Request, fn func(context.Context, uint64, domain.AuditContext, domain.MutationMetadata) (domain.Permit, error)) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	permit, err := fn(r.Context(), id, auditContextFromRequest(r), mutationMetadataFromRequest(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPermitResponse(permit))
}

func (h *Handler) permitAuditLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	entries, err := h.audit.GetPermitAuditLogs(r.Context(), id)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toAuditEntryResponses(entries)})
}

func (h *Handler) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseIntParam(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := parseIntParam(w, r, "offset")
	if !ok {
		return
	}

	filter := domain.AuditFilter{
		UserID:     r.URL.Query().Get("user_id"),
		ActionType: r.URL.Query().Get("action_type"),
		Limit:      limit,
		Offset:     offset,
	}
	if raw := r.URL.Query().Get("permit_id"); raw != "" {
		permitID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "permit_id must be integer")
			return
		}
		filter.PermitID = permitID
	}

	entries, err := h.audit.GetAllAuditLogs(r.Context(), filter)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	// Free-text narrowing of the fetched page only; totals are unaffected.
	entries = usecase.FilterAuditEntries(entries, r.URL.Query().Get("q"))

	writeJSON(w, http.StatusOK, map[string]any{"items": toAuditEntryResponses(entries)})
}

func (h *Handler) auditStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.audit.GetAuditStats(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}

	actions := make([]actionCountResponse, 0, len(stats.RecentActions))
	for _, a := range stats.RecentActions {
		actions = append(actions, actionCountResponse{
			ActionType: a.ActionType,
			Label:      domain.ActionLabels[a.ActionType],
			Count:      a.Count,
		})
	}
	writeJSON(w, http.StatusOK, auditStatsResponse{
		TotalLogs:     stats.TotalLogs,
		TodayLogs:     stats.TodayLogs,
		RecentActions: actions,
	})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		apiKey, err := h.authService.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), apiActorCtxKey, apiKey.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// decodePermitRequest reads the body once, validates the raw JSON against
// the permit schema, then decodes into the request struct.
func (h *Handler) decodePermitRequest(w http.ResponseWriter, r *http.Request) (permitRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return permitRequest{}, false
	}

	if err := h.validator.Validate(body); err != nil {
		var violation *usecase.ErrPayloadViolation
		if errors.As(err, &violation) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid permit payload", "details": violation.Errors})
			return permitRequest{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return permitRequest{}, false
	}

	var req permitRequest
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return permitRequest{}, false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return permitRequest{}, false
	}
	return req, true
}

func permitFromRequest(w http.ResponseWriter, req permitRequest) (domain.Permit, bool) {
	permit := domain.Permit{
		PermitNumber:   req.PermitNumber,
		Type:           req.Type,
		Status:         req.Status,
		ApplicantName:  req.ApplicantName,
		ApplicantEmail: req.ApplicantEmail,
		Location:       req.Location,
		Position:       req.Position,
		Description:    req.Description,
		Tags:           req.Tags,
		Notes:          req.Notes,
	}

	validFrom, ok := parseTimeField(w, "valid_from", req.ValidFrom)
	if !ok {
		return domain.Permit{}, false
	}
	validUntil, ok := parseTimeField(w, "valid_until", req.ValidUntil)
	if !ok {
		return domain.Permit{}, false
	}
	permit.ValidFrom = validFrom
	permit.ValidUntil = validUntil
	return permit, true
}

func parseTimeField(w http.ResponseWriter, name string, raw *string) (*time.Time, bool) {
	if raw == nil || *raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be RFC3339")
		return nil, false
	}
	return &parsed, true
}

func auditContextFromRequest(r *http.Request) domain.AuditContext {
	return domain.AuditContext{
		UserID:    actorFromContext(r.Context()),
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

func mutationMetadataFromRequest(r *http.Request) domain.MutationMetadata {
	return domain.MutationMetadata{
		Actor:     actorFromContext(r.Context()),
		Source:    "api",
		RequestID: r.Header.Get("X-Request-ID"),
	}
}

func toPermitResponse(permit domain.Permit) permitResponse {
	resp := permitResponse{
		ID:             permit.ID,
		PermitNumber:   permit.PermitNumber,
		Type:           permit.Type,
		Status:         permit.Status,
		ApplicantName:  permit.ApplicantName,
		ApplicantEmail: permit.ApplicantEmail,
		Location:       permit.Location,
		Position:       permit.Position,
		Description:    permit.Description,
		Tags:           permit.Tags,
		Notes:          permit.Notes,
		CreatedAt:      permit.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:      permit.UpdatedAt.UTC().Format(timeFormat),
	}
	if permit.ValidFrom != nil {
		s := permit.ValidFrom.UTC().Format(time.RFC3339)
		resp.ValidFrom = &s
	}
	if permit.ValidUntil != nil {
		s := permit.ValidUntil.UTC().Format(time.RFC3339)
		resp.ValidUntil = &s
	}
	return resp
}

func toAuditEntryResponses(entries []domain.AuditEntry) []auditEntryResponse {
	result := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		result = append(result, auditEntryResponse{
			ID:          entry.ID,
			PermitID:    entry.PermitID,
			UserID:      entry.UserID,
			ActionType:  entry.ActionType,
			ActionLabel: domain.ActionLabels[entry.ActionType],
			FieldName:   entry.FieldName,
			OldValue:    entry.OldValue,
			NewValue:    entry.NewValue,
			IPAddress:   entry.IPAddress,
			UserAgent:   entry.UserAgent,
			Metadata:    entry.Metadata,
			CreatedAt:   entry.CreatedAt.UTC().Format(timeFormat),
		})
	}
	return result
}

func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "id must be positive integer")
		return 0, false
	}
	return id, true
}

func parseIntParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		writeError(w, http.StatusBadRequest, name+" must be non-negative integer")
		return 0, false
	}
	return parsed, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	var violation *usecase.ErrPayloadViolation
	switch {
	case errors.As(err, &violation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid permit payload", "details": violation.Errors})
	case errors.Is(err, domain.ErrInvalidPermit),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidPermitType),
		errors.Is(err, domain.ErrInvalidActionType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func actorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(apiActorCtxKey).(string)
	if actor == "" {
		return "api"
	}
	return actor
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "permitapi",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/permits": map[string]any{
				"post": map[string]any{"summary": "Create permit"},
				"get":  map[string]any{"summary": "List permits"},
			},
			"/v1/permits/{id}": map[string]any{
				"get":    map[string]any{"summary": "Get permit"},
				"put":    map[string]any{"summary": "Update permit"},
				"delete": map[string]any{"summary": "Delete permit"},
			},
			"/v1/permits/{id}/approve": map[string]any{
				"post": map[string]any{"summary": "Approve permit"},
			},
			"/v1/permits/{id}/sign": map[string]any{
				"post": map[string]any{"summary": "Sign permit"},
			},
			"/v1/permits/{id}/audit-logs": map[string]any{
				"get": map[string]any{"summary": "Permit audit trail"},
			},
			"/v1/audit-logs": map[string]any{
				"get": map[string]any{"summary": "List audit entries"},
			},
			"/v1/audit-logs/stats": map[string]any{
				"get": map[string]any{"summary": "Audit statistics"},
			},
		},
	}
}
