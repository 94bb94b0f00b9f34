package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/listing-relay/internal/domain/model"
)

// DeliveryService is the subset of the delivery worker the HTTP API uses.
type DeliveryService interface {
	Get(ctx context.Context, id string) (*model.DeliveryAttempt, error)
	List(ctx context.Context, opts model.DeliveryListOptions) ([]*model.DeliveryAttempt, error)
	Retry(ctx context.Context, id string) (*model.DeliveryAttempt, error)
	Replay(ctx context.Context, id string) (*model.DeliveryAttempt, error)
	Resolve(ctx context.Context, id string) (*model.DeliveryAttempt, error)
	RetryAll(ctx context.Context) (model.BulkDeliveryResult, error)
	ReplayAll(ctx context.Context, filter model.ReplayFilter) (model.BulkDeliveryResult, error)
}

// DeliveryHandlers exposes the operator surface for webhook deliveries.
type DeliveryHandlers struct {
	Svc    DeliveryService
	Logger *slog.Logger
}

// ListDeliveries lists deliveries. Without a status filter it returns unresolved failures;
// status=all lists every status.
func (h *DeliveryHandlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := newListQuery(r)
	limit, offset := q.page()
	opts := model.DeliveryListOptions{
		SubscriptionID: q.text("subscriptionId"),
		EventType:      q.text("eventType"),
		Limit:          limit,
		Offset:         offset,
	}

	rawStatus := q.list("status")
	statuses, err := parseDeliveryStatuses(rawStatus)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_query", err)
		return
	}
	opts.Statuses = statuses
	// Unfiltered requests get the operator work queue.
	if len(rawStatus) == 0 {
		opts.Statuses = []model.DeliveryStatus{model.DeliveryStatusFailed}
	}
	opts.Unresolved = q.flag("unresolved", len(rawStatus) == 0)

	if opts.Since, err = q.timestamp("since"); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_query", err)
		return
	}

	rows, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	if rows == nil {
		rows = []*model.DeliveryAttempt{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deliveries": rows, "limit": limit, "offset": offset})
}

// GetDelivery returns one delivery.
func (h *DeliveryHandlers) GetDelivery(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.Svc.Get)
}

// RetryDelivery re-attempts a failed delivery in place.
func (h *DeliveryHandlers) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.Svc.Retry)
}

// ReplayDelivery re-sends a delivered or failed delivery in place.
func (h *DeliveryHandlers) ReplayDelivery(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.Svc.Replay)
}

// ResolveDelivery marks a delivery resolved without re-sending it.
func (h *DeliveryHandlers) ResolveDelivery(w http.ResponseWriter, r *http.Request) {
	h.single(w, r, h.Svc.Resolve)
}

// RetryAll retries every unresolved failed delivery.
func (h *DeliveryHandlers) RetryAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.Svc.RetryAll(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// ReplayAll replays deliveries matching the optional body filter.
func (h *DeliveryHandlers) ReplayAll(w http.ResponseWriter, r *http.Request) {
	var filter model.ReplayFilter
	if !DecodeOptionalJSON(w, r, &filter) {
		return
	}
	filter.EventType = strings.TrimSpace(filter.EventType)
	filter.SubscriptionID = strings.TrimSpace(filter.SubscriptionID)

	res, err := h.Svc.ReplayAll(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *DeliveryHandlers) single(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id string) (*model.DeliveryAttempt, error),
) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_path", errors.New("delivery id is required"))
		return
	}
	row, err := op(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, row)
}

// parseDeliveryStatuses accepts delivery status names; "all" clears the filter.
func parseDeliveryStatuses(raw []string) ([]model.DeliveryStatus, error) {
	var out []model.DeliveryStatus
	for _, part := range raw {
		if part == "all" {
			return nil, nil
		}
		var status model.DeliveryStatus
		if err := status.UnmarshalText([]byte(part)); err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

func (h *DeliveryHandlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
