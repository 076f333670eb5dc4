package directline

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/verastack/switchboard/pkg/logger"
	"github.com/verastack/switchboard/pkg/streaming"
)

// dataURIPrefix labels inbound attachment data URIs. The text/plain label
// is applied regardless of the attachment's actual content type; consumers
// depend on this exact prefix.
const dataURIPrefix = "data:text/plain;base64,"

// inboundHandler parses server-initiated requests for one connection. It is
// disposable per connection; delivery gating lives in the controller.
type inboundHandler struct {
	ctrl *Controller
}

// handle processes one server push: the first stream is the activity set,
// remaining streams are attachment bytes materialized as data URIs in
// order.
func (h *inboundHandler) handle(req *streaming.Request) *streaming.Response {
	if len(req.Streams) == 0 {
		h.ctrl.failActivities(ErrMalformedActivitySet)
		return streaming.NewResponse(http.StatusInternalServerError)
	}

	var set ActivitySet
	if err := req.Streams[0].ReadAsJSON(&set); err != nil {
		h.ctrl.failActivities(fmt.Errorf("failed to decode activity set: %w", err))
		return streaming.NewResponse(http.StatusInternalServerError)
	}

	if len(set.Activities) != 1 {
		logger.Error("Malformed activity set", "activities", len(set.Activities))
		h.ctrl.failActivities(ErrMalformedActivitySet)
		return streaming.NewResponse(http.StatusInternalServerError)
	}

	activity := set.Activities[0]
	for _, s := range req.Streams[1:] {
		activity.Attachments = append(activity.Attachments, Attachment{
			ContentType: s.ContentType,
			ContentURL:  dataURIPrefix + base64.StdEncoding.EncodeToString(s.Bytes()),
		})
	}

	h.ctrl.deliver(activity)
	return streaming.NewResponse(http.StatusOK)
}
