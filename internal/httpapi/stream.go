package httpapi

import (
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/agenthub/internal/agenthub"
)

// streamPollSlice keeps each bounded wait short so a dropped websocket is
// noticed between slices instead of after the full wait budget.
const streamPollSlice = 5 * time.Second

// handleStream pushes inbox messages to a websocket client as they arrive.
// Each delivered message is consumed exactly as a Receive call would consume
// it; the socket is just a long-lived carrier for repeated bounded waits.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, projectID, member string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	req := agenthub.ReceiveRequest{ProjectID: projectID, Member: member}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		messages, ok, err := s.store.AwaitMessages(ctx, req, streamPollSlice)
		if err != nil {
			if e, isCaller := agenthub.CallerError(err); isCaller {
				_ = wsjson.Write(ctx, conn, map[string]any{"error": e.Code, "message": e.Message})
				conn.Close(websocket.StatusPolicyViolation, e.Code)
				return
			}
			s.logger.Error().Err(err).Str("project", projectID).Str("member", member).Msg("stream poll failed")
			conn.Close(websocket.StatusInternalError, "internal error")
			return
		}
		if !ok {
			continue
		}
		for _, msg := range messages {
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}
