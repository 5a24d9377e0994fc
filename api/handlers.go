/*
handlers.go - HTTP API handlers for the fulfillment engine

PURPOSE:
  Exposes the order-commitment operations via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Orders:
    GET    /api/orders/{id}             Order with lines, groups, reservations, adjustments
    POST   /api/orders/{id}/transfer    Move quantity to a new ship group
    POST   /api/orders/{id}/tax/recalc  Recalculate tax

  Priorities:
    POST   /api/orders/{id}/priority    Rank the order's unranked groups last
    DELETE /api/orders/{id}/priority    Drop the order's ranks
    GET    /api/priorities              Rank list in priority order
    PUT    /api/priorities              Resequence the whole list

  Reservations:
    POST   /api/reservations/replay       Queue a replay (?wait=true runs inline)
    GET    /api/reservations/replay/runs  Recent replay runs

  Inventory:
    GET    /api/inventory/{id}/ledger   ATP ledger with running totals

  Scenarios:
    GET    /api/scenarios               List demo scenarios
    POST   /api/scenarios/load          Load a demo scenario
    POST   /api/scenarios/reset         Clear the store

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator tags on request DTOs)
  3. Call the engine
  4. Serialize response in the Result envelope
  5. Handle errors

ERROR HANDLING:
  Errors are returned in the envelope with the status their kind maps to:
  - 400: validation
  - 404: not_found
  - 409: conflict (quantity already picked, replay held elsewhere)
  - 500: consistency, internal
  - 502: collaborator (inventory or tax service)

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
	"github.com/warp/fulfillment-engine/engine"
	"github.com/warp/fulfillment-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *engine.Engine
	Fixtures *factory.FixtureFactory
	Queue    *ReplayQueue
	Logger   *zap.Logger

	// AllowedOrigins is the CORS allow-list; empty allows localhost dev origins.
	AllowedOrigins []string

	validate *validator.Validate
}

// NewHandler creates a handler over eng. queue may be nil, in which case
// replays always run inline.
func NewHandler(eng *engine.Engine, queue *ReplayQueue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   eng,
		Fixtures: factory.NewFixtureFactory(eng.Inventory),
		Queue:    queue,
		Logger:   logger,
		validate: validator.New(),
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.GetOrder(r.Context(), orderParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, toOrderDTO(view))
}

// TransferToNewShipGroup moves line quantities into a new ship group.
func (h *Handler) TransferToNewShipGroup(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Engine.TransferToNewShipGroup(r.Context(), req.toDomain(orderParam(r)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, toTransferResultDTO(res))
}

// RecalcTax accepts an empty body as {"contact_mech_id_changed": false}.
func (h *Handler) RecalcTax(w http.ResponseWriter, r *http.Request) {
	var req RecalcTaxRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Engine.RecalcTax(r.Context(), orderParam(r), req.ContactMechIDChanged)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, toRecalcResultDTO(res))
}

// =============================================================================
// PRIORITY HANDLERS
// =============================================================================

func (h *Handler) SetPriority(w http.ResponseWriter, r *http.Request) {
	ranks, err := h.Engine.SetPriority(r.Context(), orderParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, toRankDTOs(ranks))
}

func (h *Handler) DeletePriority(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeletePriority(r.Context(), orderParam(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) ListPriorities(w http.ResponseWriter, r *http.Request) {
	ranks, err := h.Engine.ListPriorities(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, toRankDTOs(ranks))
}

// ResequencePriorities replaces the rank list with the submitted order.
func (h *Handler) ResequencePriorities(w http.ResponseWriter, r *http.Request) {
	var req ResequenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	ranks, err := h.Engine.ResequencePriorities(r.Context(), req.toDomain())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, toRankDTOs(ranks))
}

// =============================================================================
// REPLAY HANDLERS
// =============================================================================

// ReplayReservations queues a replay and answers 202 with the run id. With
// ?wait=true, or when no queue is configured, the replay runs inline.
func (h *Handler) ReplayReservations(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if wait || h.Queue == nil {
		run, err := h.Engine.ReplayReservationsByPriority(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeResult(w, http.StatusOK, toReplayRunDTO(run))
		return
	}

	runID := h.Queue.Enqueue()
	writeResult(w, http.StatusAccepted, ReplayRunDTO{ID: runID, Queued: true})
}

func (h *Handler) ListReplayRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, r, core.Invalid("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}
	runs, err := h.Engine.ListReplayRuns(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ReplayRunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toReplayRunDTO(run))
	}
	writeResult(w, http.StatusOK, out)
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

func (h *Handler) GetItemLedger(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.ItemLedger(r.Context(), core.InventoryItemID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, toLedgerDTO(view))
}

// =============================================================================
// HELPERS
// =============================================================================

func orderParam(r *http.Request) core.OrderID {
	return core.OrderID(chi.URLParam(r, "id"))
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, core.Invalid("body", "invalid JSON: %v", err))
		return false
	}
	return h.check(w, r, dst)
}

func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, core.Invalid("body", "invalid JSON: %v", err))
		return false
	}
	return h.check(w, r, dst)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, validationError(err))
		return false
	}
	return true
}

// validationError turns validator output into a ValidationError naming every
// failing field.
func validationError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return core.Invalid("body", "%v", err)
	}
	fields := make([]string, 0, len(ves))
	for _, fe := range ves {
		fields = append(fields, fe.Namespace()+" ("+fe.Tag()+")")
	}
	return core.Invalid(ves[0].Field(), "invalid fields: %s", strings.Join(fields, ", "))
}

func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	case core.KindCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := statusFor(kind)
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", fields...)
	} else {
		h.Logger.Debug("request rejected", fields...)
	}
	writeJSON(w, status, Result{OK: false, Kind: string(kind), Message: err.Error()})
}

func writeResult(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Result{OK: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
