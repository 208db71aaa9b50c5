package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/veranemoloko/transfer-tracker/internal/domain"
	"github.com/veranemoloko/transfer-tracker/internal/query"
	"github.com/veranemoloko/transfer-tracker/internal/registry"
)

const keepAliveInterval = 15 * time.Second

// Events handles GET /transfers/events. It streams one "snapshot" event per
// registry version the subscriber observes, starting with the current one.
// A slow client skips intermediate versions and always gets the newest.
func (h *TransferHandler) Events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to clear write deadline", "error", err)
	}

	updates := make(chan registry.Snapshot, 1)
	unsubscribe := h.service.Subscribe(func(snap registry.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("event stream not supported", "error", err)
		return
	}

	h.logger.Debug("event stream opened", "remote", r.RemoteAddr)
	defer h.logger.Debug("event stream closed", "remote", r.RemoteAddr)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case snap := <-updates:
			if err := writeSnapshotEvent(w, snap); err != nil {
				h.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSnapshotEvent(w http.ResponseWriter, snap registry.Snapshot) error {
	event := domain.SnapshotEvent{
		Version:   snap.Version(),
		Downloads: toViewResponses(query.Summarize(snap, domain.TypeDownload)),
		Uploads:   toViewResponses(query.Summarize(snap, domain.TypeUpload)),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", event.Version, data)
	return err
}

func toViewResponses(views []query.TaskView) []domain.TaskResponse {
	out := make([]domain.TaskResponse, 0, len(views))
	for _, v := range views {
		resp := domain.TaskResponse{TransferTask: v.Task}
		if v.Determinate {
			percent := v.Percent
			resp.Percent = &percent
		}
		out = append(out, resp)
	}
	return out
}
