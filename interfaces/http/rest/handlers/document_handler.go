// Package handlers implements the REST endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mindmeld/application/ports"
	"mindmeld/domain/core/entities"
	"mindmeld/pkg/common"
	apperrors "mindmeld/pkg/errors"
)

const maxDocumentBytes = 4 * 1024 * 1024

// DocumentHandler serves document load/save/list. The editor core treats
// persistence as external; these endpoints are that exterior.
type DocumentHandler struct {
	repo     ports.DocumentRepository
	errors   *apperrors.ErrorHandler
	logger   *zap.Logger
}

// NewDocumentHandler creates the handler
func NewDocumentHandler(repo ports.DocumentRepository, eh *apperrors.ErrorHandler, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{repo: repo, errors: eh, logger: logger}
}

// saveDocumentRequest is the PUT body; identity fields come from the path
// and the authenticated principal
type saveDocumentRequest struct {
	Title           string               `json:"title"`
	Nodes           []entities.Node      `json:"nodes"`
	Edges           []entities.Edge      `json:"edges"`
	EdgeRenderStyle entities.RenderStyle `json:"edge_render_style"`
}

// List returns the caller's documents, newest first
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := common.GetPrincipal(r.Context())
	if !ok {
		h.errors.Handle(w, r, apperrors.NewUnauthorizedError(""))
		return
	}
	records, err := h.repo.List(r.Context(), principal.UserID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, records)
}

// Get returns one document owned by the caller
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, ok := common.GetPrincipal(r.Context())
	if !ok {
		h.errors.Handle(w, r, apperrors.NewUnauthorizedError(""))
		return
	}
	record, err := h.repo.Load(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	// Ownership failures look identical to missing documents
	if record.OwnerID != principal.UserID {
		h.errors.Handle(w, r, apperrors.NewNotFoundError("document"))
		return
	}
	common.RespondJSON(w, http.StatusOK, record)
}

// Save stores the full document state under the caller's ownership
func (h *DocumentHandler) Save(w http.ResponseWriter, r *http.Request) {
	principal, ok := common.GetPrincipal(r.Context())
	if !ok {
		h.errors.Handle(w, r, apperrors.NewUnauthorizedError(""))
		return
	}

	var req saveDocumentRequest
	if err := common.ParseJSONBody(r, &req, maxDocumentBytes); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("malformed document body").WithCause(err))
		return
	}

	documentID := chi.URLParam(r, "documentID")
	if existing, err := h.repo.Load(r.Context(), documentID); err == nil && existing.OwnerID != principal.UserID {
		h.errors.Handle(w, r, apperrors.NewNotFoundError("document"))
		return
	}

	style := req.EdgeRenderStyle
	if style == "" {
		style = entities.DefaultRenderStyle
	}
	record := &ports.DocumentRecord{
		ID:              documentID,
		OwnerID:         principal.UserID,
		Title:           req.Title,
		Nodes:           req.Nodes,
		Edges:           req.Edges,
		EdgeRenderStyle: style,
		UpdatedAt:       time.Now(),
	}
	if err := h.repo.Save(r.Context(), record); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	h.logger.Info("document saved",
		zap.String("document_id", documentID),
		zap.String("owner_id", principal.UserID),
		zap.Int("nodes", len(record.Nodes)),
		zap.Int("edges", len(record.Edges)),
	)
	common.RespondJSON(w, http.StatusOK, record)
}
