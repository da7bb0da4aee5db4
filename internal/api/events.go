package api

import (
	"encoding/json"
	"net/http"
	"strings"

	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"

	"scanpipe/internal/logging"
	"scanpipe/internal/services"
)

// pubsubMessage is the data of a Pub/Sub "messagePublished" CloudEvent.
type pubsubMessage struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes,omitempty"`
		MessageID  string            `json:"messageId,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription,omitempty"`
}

// handleEvent accepts a "scan uploaded" message delivered as a CloudEvent,
// stores the scan, and starts its pipeline. Redelivered messages resolve to
// the existing scan, so a duplicate never starts a second instance.
func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	event, err := cehttp.NewEventFromHTTPRequest(r)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrInvalidInput, "api", "decode cloudevent", "request is not a CloudEvent", err))
		return
	}

	var msg pubsubMessage
	if err := event.DataAs(&msg); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrInvalidInput, "api", "decode cloudevent", "event data is not a Pub/Sub message", err))
		return
	}

	var req CreateScanRequest
	if len(msg.Message.Data) > 0 {
		if err := json.Unmarshal(msg.Message.Data, &req); err != nil {
			s.writeError(w, r, services.Wrap(services.ErrInvalidInput, "api", "decode upload message", "message data is not JSON", err))
			return
		}
	}
	if req.UserID == "" {
		req.UserID = strings.TrimSpace(msg.Message.Attributes["userId"])
	}
	if req.Date == "" {
		req.Date = strings.TrimSpace(msg.Message.Attributes["date"])
	}

	logger := logging.WithContext(r.Context(), s.logger)
	attrs := append([]logging.Attr{
		logging.String("event_id", event.ID()),
		logging.String("cloudevent_type", event.Type()),
		logging.String("message_id", msg.Message.MessageID),
	}, logging.InstanceAttrs(req.UserID, req.Date)...)
	logger.Info("scan upload event received", logging.Args(attrs...)...)

	resp, err := s.createAndSubmit(r.Context(), req, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if resp.Existing {
		logger.Info("duplicate upload event resolved to existing scan",
			logging.String(logging.FieldScanID, resp.Scan.ID),
			logging.String("status", resp.Scan.Status),
			logging.Bool("submitted", resp.Submitted),
		)
	}
	status := http.StatusAccepted
	if !resp.Submitted {
		status = http.StatusOK
	}
	s.writeJSON(w, status, resp)
}
