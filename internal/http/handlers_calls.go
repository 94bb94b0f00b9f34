package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/target/listing-relay/internal/domain/model"
)

// CallSummaryEmitter records a call summary and emits call.summary.
type CallSummaryEmitter interface {
	Emit(ctx context.Context, req model.CallSummaryRequest) (model.CallSummaryResult, error)
}

// CallHandlers exposes call summary emission.
type CallHandlers struct {
	Svc    CallSummaryEmitter
	Logger *slog.Logger
}

type callSummaryBody struct {
	Summary json.RawMessage `json:"summary"`
	Force   bool            `json:"force"`
}

type callSummaryResponse struct {
	ActivityID string `json:"activityId"`
	EmitCount  int    `json:"emitCount"`
	Emitted    bool   `json:"emitted"`
}

// EmitSummary handles POST /api/calls/{callSid}/summary.
func (h *CallHandlers) EmitSummary(w http.ResponseWriter, r *http.Request) {
	var body callSummaryBody
	if !DecodeJSON(w, r, &body) {
		return
	}

	res, err := h.Svc.Emit(r.Context(), model.CallSummaryRequest{
		CallSID: r.PathValue("callSid"),
		Summary: body.Summary,
		Force:   body.Force,
	})
	if err != nil {
		logger := h.Logger
		if logger == nil {
			logger = slog.Default()
		}
		writeServiceError(w, r, logger, err)
		return
	}

	out := callSummaryResponse{Emitted: res.Emitted}
	if res.Activity != nil {
		out.ActivityID = res.Activity.ID
		out.EmitCount = res.Activity.EmitCount
	}
	WriteJSON(w, http.StatusOK, out)
}
