package realtime

import (
	"context"
	"net/http"
	"strings"

	"wadesk/internal/httputil"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// controlFrame is what clients send over the socket to manage topic
// membership.
type controlFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// ServeWS upgrades the request to a WebSocket session attached to the hub.
// Clients may pre-join topics via the repeated "topic" query parameter and
// manage membership afterwards with subscribe/unsubscribe frames.
func ServeWS(hub *Hub, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		defer conn.Close(websocket.StatusInternalError, "session ended")

		var topics []string
		for _, t := range r.URL.Query()["topic"] {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}

		sub := hub.Subscribe(topics...)
		defer hub.Unsubscribe(sub)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		logger.WithFields(logrus.Fields{
			"remote_ip": httputil.GetClientIP(r),
			"topics":    topics,
		}).Info("WebSocket session started")

		go readControlFrames(ctx, cancel, conn, sub, logger)

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case evt, ok := <-sub.Events():
				if !ok {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if err := wsjson.Write(ctx, conn, evt); err != nil {
					logger.WithError(err).Debug("WebSocket write failed, closing session")
					return
				}
			}
		}
	}
}

// readControlFrames consumes inbound frames until the peer disconnects.
// Unknown actions are ignored.
func readControlFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *Subscriber, logger *logrus.Logger) {
	defer cancel()

	for {
		var frame controlFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}

		switch frame.Action {
		case "subscribe":
			if frame.Topic != "" {
				sub.Join(frame.Topic)
			}
		case "unsubscribe":
			if frame.Topic != "" {
				sub.Leave(frame.Topic)
			}
		default:
			logger.WithField("action", frame.Action).Debug("Ignoring unknown control frame")
		}
	}
}
