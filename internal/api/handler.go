// Package api exposes the document surface over JSON: CRUD and listing for
// every collection, attachments, and the audit export. Authorization is not
// done here; handlers hand the request principal to the coordinator and map
// the failure taxonomy to status codes.
package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lyceum-app/lyceum/internal/audit"
	"github.com/lyceum-app/lyceum/internal/blob"
	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/dualwrite"
	"github.com/lyceum-app/lyceum/internal/platform/httpx"
	"github.com/lyceum-app/lyceum/internal/policy"
	"github.com/lyceum-app/lyceum/internal/principal"
	"github.com/lyceum-app/lyceum/internal/store"
)

const defaultPageSize = 20

// Handler serves the document API.
type Handler struct {
	logger      *slog.Logger
	coordinator *dualwrite.Coordinator
	trail       *audit.Service
	attachments *blob.Service
}

func NewHandler(logger *slog.Logger, co *dualwrite.Coordinator, trail *audit.Service, attachments *blob.Service) *Handler {
	return &Handler{logger: logger, coordinator: co, trail: trail, attachments: attachments}
}

// MountRoutes attaches the API routes to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit/export", h.exportAudit)

	r.Route("/{collection}", func(r chi.Router) {
		r.Get("/", h.list)
		r.Route("/{docID}", func(r chi.Router) {
			r.Get("/", h.read)
			r.Post("/", h.create)
			r.Put("/", h.update)
			r.Delete("/", h.delete)
			r.Route("/attachments/{name}", h.mountAttachmentRoutes)
			r.Route("/{childID}", func(r chi.Router) {
				r.Get("/", h.read)
				r.Post("/", h.create)
				r.Put("/", h.update)
				r.Delete("/", h.delete)
			})
		})
	})
}

func (h *Handler) mountAttachmentRoutes(r chi.Router) {
	r.Get("/", h.fetchAttachment)
	r.Put("/", h.attach)
	r.Delete("/", h.detach)
}

type documentResponse struct {
	Path      string         `json:"path"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updatedAt,omitempty"`
}

type writeResponse struct {
	State    string            `json:"state"`
	QueuedID string            `json:"queuedId,omitempty"`
	Document *documentResponse `json:"document,omitempty"`
}

func toDocumentResponse(doc *core.Document) *documentResponse {
	if doc == nil {
		return nil
	}
	return &documentResponse{Path: doc.Path.String(), Fields: doc.Fields, UpdatedAt: doc.UpdatedAt}
}

func (h *Handler) read(w http.ResponseWriter, r *http.Request) {
	p, path, ok := h.principalAndPath(w, r)
	if !ok {
		return
	}
	doc, err := h.coordinator.Read(r.Context(), p, path)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, policy.OpCreate, http.StatusCreated)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, policy.OpUpdate, http.StatusOK)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, op policy.Operation, okStatus int) {
	p, path, ok := h.principalAndPath(w, r)
	if !ok {
		return
	}
	var fields map[string]any
	if err := httpx.DecodeJSON(r, &fields); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "body must be a JSON object")
		return
	}
	res, err := h.coordinator.Write(r.Context(), p, op, path, fields)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := okStatus
	if res.State == dualwrite.StateCacheWritten {
		// Parked offline: accepted locally, not yet authoritative.
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, writeResponse{
		State:    res.State.String(),
		QueuedID: res.QueuedID,
		Document: toDocumentResponse(res.Doc),
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	p, path, ok := h.principalAndPath(w, r)
	if !ok {
		return
	}
	res, err := h.coordinator.Write(r.Context(), p, policy.OpDelete, path, nil)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if res.State == dualwrite.StateCacheWritten {
		httpx.JSON(w, http.StatusAccepted, writeResponse{State: res.State.String(), QueuedID: res.QueuedID})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}
	collection, known := core.ParseCollection(chi.URLParam(r, "collection"))
	if !known {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown collection")
		return
	}
	q := store.Query{Collection: collection}
	if field := r.URL.Query().Get("order"); field != "" {
		q.Order = store.Order{Field: field, Desc: r.URL.Query().Get("desc") == "1"}
	}
	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(key, "eq."):
			q.Filters = append(q.Filters, store.Filter{
				Field: strings.TrimPrefix(key, "eq."), Op: store.FilterEq, Value: values[0],
			})
		case strings.HasPrefix(key, "has."):
			q.Filters = append(q.Filters, store.Filter{
				Field: strings.TrimPrefix(key, "has."), Op: store.FilterContains, Value: values[0],
			})
		}
	}
	pageSize := defaultPageSize
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			pageSize = n
		}
	}

	page, err := h.coordinator.List(r.Context(), p, q, pageSize, r.URL.Query().Get("token"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]*documentResponse, 0, len(page.Items))
	for _, doc := range page.Items {
		items = append(items, toDocumentResponse(doc))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":   items,
		"hasMore": page.HasMore,
		"token":   page.Token,
	})
}

func (h *Handler) exportAudit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}
	start, err := parseTimeParam(r, "from", time.Time{})
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "from must be RFC3339")
		return
	}
	end, err := parseTimeParam(r, "to", time.Now().UTC())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "to must be RFC3339")
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := h.trail.ExportRange(r.Context(), p, start, end, offset, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": page.Entries,
		"hasMore": page.HasMore,
	})
}

func (h *Handler) attach(w http.ResponseWriter, r *http.Request) {
	p, path, ok := h.principalAndPath(w, r)
	if !ok {
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := h.attachments.Attach(r.Context(), p, path, chi.URLParam(r, "name"), contentType, r.Body)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, info)
}

func (h *Handler) fetchAttachment(w http.ResponseWriter, r *http.Request) {
	p, path, ok := h.principalAndPath(w, r)
	if !ok {
		return
	}
	reader, info, err := h.attachments.Fetch(r.Context(), p, path, chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	defer reader.Close()
	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("attachment stream interrupted", slog.String("key", info.Key), slog.Any("error", err))
	}
}

func (h *Handler) detach(w http.ResponseWriter, r *http.Request) {
	p, path, ok := h.principalAndPath(w, r)
	if !ok {
		return
	}
	if err := h.attachments.Detach(r.Context(), p, path, chi.URLParam(r, "name")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// principalAndPath pulls the authenticated principal and the document path
// out of the request, responding itself when either is unusable.
func (h *Handler) principalAndPath(w http.ResponseWriter, r *http.Request) (principal.Principal, core.Path, bool) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return principal.Principal{}, core.Path{}, false
	}
	raw := chi.URLParam(r, "collection") + "/" + chi.URLParam(r, "docID")
	if child := chi.URLParam(r, "childID"); child != "" {
		raw += "/" + child
	}
	path, err := core.ParsePath(raw)
	if err != nil {
		httpx.RespondError(w, err)
		return principal.Principal{}, core.Path{}, false
	}
	return p, path, true
}

func (h *Handler) requirePrincipal(w http.ResponseWriter, r *http.Request) (principal.Principal, bool) {
	p := principal.FromContext(r.Context())
	if !p.Authenticated() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in first")
		return principal.Principal{}, false
	}
	return p, true
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}
