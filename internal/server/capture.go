package server

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chamarasanjeewadev/sinhala-translator/internal/audio"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/auth"
	"github.com/chamarasanjeewadev/sinhala-translator/internal/session"
)

const (
	captureWriteWait   = 10 * time.Second
	captureIdleTimeout = 2 * time.Minute
	defaultCaptureMIME = "audio/webm"

	// every binary frame starts with a big-endian uint32 fragment sequence
	captureSeqBytes = 4
)

// captureControl is a text frame sent by the recorder
type captureControl struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// captureReply is a text frame sent back to the recorder
type captureReply struct {
	Type    string              `json:"type"`
	Bytes   int                 `json:"bytes,omitempty"`
	Stats   *audio.CaptureStats `json:"stats,omitempty"`
	Session *session.Info       `json:"session,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (h *HTTPServer) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleCapture implements GET /api/capture. Binary frames carry a 4-byte
// big-endian sequence number followed by recorded audio; fragments may arrive
// out of order. A "stop" control frame turns the capture into a session and
// replies with its snapshot, "cancel" discards it.
func (h *HTTPServer) handleCapture(w http.ResponseWriter, r *http.Request) {
	token, err := auth.TokenFromHeader(r)
	if err != nil {
		token = r.URL.Query().Get("token")
	}
	user, err := h.auth.Parse(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if _, err := h.service.EnsureUser(r.Context(), user.ID, user.Email); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Capture upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	logger := h.logger.With(slog.String("user_id", user.ID))
	logger.Info("Capture started")

	buffer := audio.NewCaptureBuffer(defaultCaptureMIME, int(h.config.MaxUploadBytes))
	conn.SetReadLimit(h.config.MaxUploadBytes)

	for {
		conn.SetReadDeadline(time.Now().Add(captureIdleTimeout))

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Capture connection lost", slog.String("error", err.Error()))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if len(data) < captureSeqBytes {
				h.replyCapture(conn, captureReply{Type: "error", Error: "audio frame is missing its sequence number"})
				continue
			}
			sequence := binary.BigEndian.Uint32(data[:captureSeqBytes])
			if err := buffer.Write(sequence, data[captureSeqBytes:]); err != nil {
				h.replyCapture(conn, captureReply{Type: "error", Error: err.Error()})
				if errors.Is(err, audio.ErrCaptureTooLarge) {
					logger.Warn("Capture exceeded size limit", slog.Int("bytes", buffer.Size()))
					return
				}
				logger.Debug("Capture fragment rejected",
					slog.Uint64("sequence", uint64(sequence)),
					slog.String("error", err.Error()))
			}

		case websocket.TextMessage:
			var ctrl captureControl
			if err := json.Unmarshal(data, &ctrl); err != nil {
				h.replyCapture(conn, captureReply{Type: "error", Error: "invalid control message"})
				continue
			}

			switch ctrl.Type {
			case "stop":
				h.finishCapture(r, conn, logger, user, buffer, ctrl)
				return
			case "cancel":
				buffer.Reset()
				h.replyCapture(conn, captureReply{Type: "cancelled"})
				logger.Info("Capture cancelled")
				return
			case "status":
				stats := buffer.GetStats()
				h.replyCapture(conn, captureReply{Type: "status", Bytes: stats.Bytes, Stats: &stats})
			default:
				h.replyCapture(conn, captureReply{Type: "error", Error: "unknown control message"})
			}
		}
	}
}

func (h *HTTPServer) finishCapture(r *http.Request, conn *websocket.Conn, logger *slog.Logger, user *auth.User, buffer *audio.CaptureBuffer, ctrl captureControl) {
	name := ctrl.Name
	if name == "" {
		name = "recording-" + time.Now().UTC().Format("20060102-150405")
	}

	src, err := buffer.Finalize(name)
	if err != nil {
		h.replyCapture(conn, captureReply{Type: "error", Error: err.Error()})
		return
	}
	if ctrl.MimeType != "" {
		if !audio.IsSupportedMIMEType(ctrl.MimeType) {
			h.replyCapture(conn, captureReply{Type: "error", Error: "unsupported audio format: " + ctrl.MimeType})
			return
		}
		src.MIMEType = ctrl.MimeType
	}

	s, err := h.sessions.Create(r.Context(), user.ID, src)
	if err != nil {
		_, message := statusFor(err)
		h.replyCapture(conn, captureReply{Type: "error", Error: message})
		return
	}

	info := s.Info()
	h.replyCapture(conn, captureReply{Type: "session", Bytes: len(src.Data), Session: &info})

	stats := buffer.GetStats()
	logger.Info("Capture finished",
		slog.String("session_id", s.ID),
		slog.Int("bytes", len(src.Data)),
		slog.Uint64("fragments", uint64(stats.Fragments)),
		slog.Uint64("duplicates", uint64(stats.Duplicates)),
		slog.Duration("duration", stats.LastUpdate.Sub(stats.StartedAt)))
}

func (h *HTTPServer) replyCapture(conn *websocket.Conn, reply captureReply) {
	conn.SetWriteDeadline(time.Now().Add(captureWriteWait))
	if err := conn.WriteJSON(reply); err != nil {
		h.logger.Debug("Capture reply failed", slog.String("error", err.Error()))
	}
}
