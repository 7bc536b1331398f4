package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// actorHeader names the operator performing a CRM action.
const actorHeader = "X-User-ID"

const maxRequestBody = 1 << 20

// ErrorResponse is the JSON body of every failed CRM request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CRMHandler exposes the operator endpoints.
type CRMHandler struct {
	service CRMService
}

// NewCRMHandler creates a new CRM handler
func NewCRMHandler(service CRMService) *CRMHandler {
	return &CRMHandler{service: service}
}

// Register mounts the CRM routes.
func (h *CRMHandler) Register(r Registrar) {
	r.HandleFunc("/crm/mensajes/query-actividades", h.QueryActivities, http.MethodGet)
	r.HandleFunc("/crm/mensajes/{id}/responder", h.Reply, http.MethodPost)
	r.HandleFunc("/crm/mensajes/{id}/reintentar", h.Retry, http.MethodPost)
	r.HandleFunc("/crm/mensajes/{id}/descartar", h.Discard, http.MethodPost)
	r.HandleFunc("/crm/mensajes/{id}/oportunidad", h.OpenOpportunity, http.MethodPost)
	r.HandleFunc("/crm/mensajes/{id}/actividades", h.MessageActivities, http.MethodGet)

	r.HandleFunc("/crm/oportunidades", h.ListOpportunities, http.MethodGet)
	r.HandleFunc("/crm/oportunidades/{id}/transicion", h.Transition, http.MethodPost)
	r.HandleFunc("/crm/oportunidades/{id}/cerrar", h.Close, http.MethodPost)
	r.HandleFunc("/crm/oportunidades/{id}/eventos", h.CreateEvent, http.MethodPost)

	r.HandleFunc("/crm/eventos/{id}/estado", h.TransitionEvent, http.MethodPost)
}

// Reply sends an operator reply to an inbound message.
func (h *CRMHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req model.ReplyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.SourceMessageID = mux.Vars(r)["id"]
	req.ActorID = r.Header.Get(actorHeader)

	// A failed provider call is not an error here: the message comes back in error_send.
	message, err := h.service.Reply(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, message)
}

// Retry re-sends an outbound message stuck in error_send.
func (h *CRMHandler) Retry(w http.ResponseWriter, r *http.Request) {
	message, err := h.service.Retry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, message)
}

func (h *CRMHandler) Discard(w http.ResponseWriter, r *http.Request) {
	message, err := h.service.DiscardMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, message)
}

type openOpportunityRequest struct {
	ContactName string `json:"contact_name,omitempty"`
}

// OpenOpportunity links an inbound message to its contact's active opportunity.
func (h *CRMHandler) OpenOpportunity(w http.ResponseWriter, r *http.Request) {
	var req openOpportunityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opp, err := h.service.OpenOpportunityFromMessage(r.Context(), mux.Vars(r)["id"], req.ContactName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, opp)
}

func (h *CRMHandler) MessageActivities(w http.ResponseWriter, r *http.Request) {
	h.queryActivities(w, r, model.ActivityQuery{MessageID: mux.Vars(r)["id"]})
}

// QueryActivities resolves the timeline from whichever id the caller passes.
func (h *CRMHandler) QueryActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.queryActivities(w, r, model.ActivityQuery{
		MessageID:     q.Get("mensaje_id"),
		ContactID:     q.Get("contacto_id"),
		OpportunityID: q.Get("oportunidad_id"),
	})
}

func (h *CRMHandler) queryActivities(w http.ResponseWriter, r *http.Request, query model.ActivityQuery) {
	timeline, err := h.service.QueryActivities(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, timeline)
}

// ListOpportunities serves the opportunity panel.
func (h *CRMHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.OpportunityFilter{
		ContactID:         q.Get("contacto_id"),
		ResponsibleUserID: q.Get("responsable_id"),
		State:             q.Get("estado"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeServiceError(w, r, err)
		return
	}

	opportunities, err := h.service.ListPanel(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if opportunities == nil {
		opportunities = []model.Opportunity{}
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{"items": opportunities})
}

func (h *CRMHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req model.TransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.OpportunityID = mux.Vars(r)["id"]
	if req.ActorID == "" {
		req.ActorID = r.Header.Get(actorHeader)
	}

	opp, err := h.service.Transition(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, opp)
}

func (h *CRMHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req model.CloseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ActorID == "" {
		req.ActorID = r.Header.Get(actorHeader)
	}

	opp, err := h.service.Close(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, opp)
}

func (h *CRMHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.OpportunityID = mux.Vars(r)["id"]

	event, err := h.service.CreateEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, event)
}

func (h *CRMHandler) TransitionEvent(w http.ResponseWriter, r *http.Request) {
	var req model.EventTransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.EventID = mux.Vars(r)["id"]

	event, err := h.service.TransitionEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, event)
}

// decodeBody reads an optional JSON body into dst. An empty body leaves dst
// untouched; anything unparseable answers 400.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeServiceError(w, r, fmt.Errorf("%w: invalid JSON body: %v", apperrors.ErrBadRequest, err))
	return false
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", apperrors.ErrBadRequest, raw)
	}
	return n, nil
}

// writeServiceError maps err to its stable code. Server-side failures are
// logged; client errors are not.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.Classify(err)
	if code.Status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("CRM request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, code.Status, code.Name, "")
		return
	}
	writeError(w, code.Status, code.Name, err.Error())
}

func writeError(w http.ResponseWriter, status int, name, message string) {
	utils.WriteJSONResponse(w, status, ErrorResponse{Error: name, Message: message})
}
