package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	roleHost        = "host"
	roleParticipant = "participant"

	leaveTimeout = 5 * time.Second
)

// WSHandler serves one realtime channel per room. A connection is either the
// room's host or a participant; room events are forwarded to both and every
// request gets an ack carrying the same envelope as the REST API.
type WSHandler struct {
	svc      Services
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(svc Services, log logrus.FieldLogger) *WSHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts the socket endpoint on mux.
func (h *WSHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/rooms/{id}", h.ServeWS)
}

type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload"`
}

type welcome struct {
	Role        string              `json:"role"`
	Participant *domain.Participant `json:"participant,omitempty"`
	Room        domain.RoomSnapshot `json:"room"`
}

type session struct {
	roomID        string
	role          string
	callerID      string
	participantID string
}

// ServeWS upgrades the request and attaches it to a room. Query parameters:
// userId (caller), name (display name) and participantId (resume after reconnect).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	query := r.URL.Query()
	userID := query.Get("userId")
	if userID == "" {
		userID = caller(r)
	}

	snap, err := h.svc.Rooms.Get(r.Context(), roomID)
	if err != nil {
		body := failure(err)
		writeJSON(w, statusFor(body.Kind), body)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).WithField("room_id", roomID).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	// subscribe before joining so our own join event and anything after it arrives
	events, cancel, err := h.svc.Events.Subscribe(ctx, roomID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: failure(err)})
		return
	}
	defer cancel()

	sess := session{roomID: roomID, callerID: userID}
	hello := welcome{Room: snap}
	if userID != "" && userID == snap.Room.HostID {
		sess.role, hello.Role = roleHost, roleHost
	} else {
		var p domain.Participant
		if pid := query.Get("participantId"); pid != "" {
			p, hello.Room, err = h.svc.Participants.Resume(ctx, roomID, pid)
		} else {
			p, hello.Room, err = h.svc.Participants.Join(ctx, roomID, domain.Identity{UserID: userID, DisplayName: query.Get("name")})
		}
		if err != nil {
			_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: failure(err)})
			return
		}
		sess.role, hello.Role = roleParticipant, roleParticipant
		sess.participantID = p.ID
		hello.Participant = &p
		defer h.leave(sess)
	}

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// gorilla connections allow one concurrent writer; everything goes through send
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.WithError(err).WithField("room_id", roomID).Debug("ws write failed")
				return
			}
		}
	}()
	send <- outboundMessage{Type: "joined", Payload: hello}

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					// dropped as a slow subscriber; the client resyncs on reconnect
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync required"),
						time.Now().Add(time.Second))
					_ = conn.Close()
					return
				}
				select {
				case send <- outboundMessage{Type: string(ev.Type), Payload: ev.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

read:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		select {
		case send <- outboundMessage{Type: "ack", ID: inbound.ID, Payload: h.dispatch(ctx, sess, inbound)}:
		case <-writerDone:
			break read
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *WSHandler) leave(sess session) {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if _, err := h.svc.Participants.Leave(ctx, sess.roomID, sess.participantID); err != nil && domain.KindOf(err) != domain.KindNotFound {
		h.log.WithError(err).WithFields(logrus.Fields{"room_id": sess.roomID, "participant_id": sess.participantID}).Warn("leave on disconnect failed")
	}
}

type updateDurationPayload struct {
	DurationMinutes int `json:"durationMinutes"`
}

type syncPayload struct {
	Entries []app.AnswerInput `json:"entries"`
}

func (h *WSHandler) dispatch(ctx context.Context, sess session, msg inboundMessage) envelope {
	data, err := h.handle(ctx, sess, msg)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			h.log.WithError(err).WithFields(logrus.Fields{"room_id": sess.roomID, "op": msg.Type}).Error("ws request failed")
		}
		return failure(err)
	}
	return ok(data)
}

func (h *WSHandler) handle(ctx context.Context, sess session, msg inboundMessage) (any, error) {
	switch msg.Type {
	case "answer":
		if sess.role != roleParticipant {
			return nil, domain.Forbiddenf("only participants may answer")
		}
		var in app.AnswerInput
		if err := unmarshalPayload(msg.Payload, &in); err != nil {
			return nil, err
		}
		return h.svc.Submissions.Submit(ctx, sess.participantID, in)
	case "sync":
		if sess.role != roleParticipant {
			return nil, domain.Forbiddenf("only participants may sync answers")
		}
		var p syncPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return h.svc.Submissions.SyncBatch(ctx, sess.participantID, p.Entries)
	case "getEndTime":
		end, err := h.svc.Rooms.EndTime(ctx, sess.roomID)
		return domain.EndTimeUpdate{EndTime: end}, err
	case "leaderboard":
		return h.svc.Results.Leaderboard(ctx, sess.roomID)
	case "startRoom":
		return h.svc.Rooms.Start(ctx, sess.roomID, sess.callerID)
	case "endRoom":
		return h.svc.Rooms.Complete(ctx, sess.roomID, sess.callerID)
	case "updateDuration":
		var p updateDurationPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return h.svc.Rooms.UpdateActiveDuration(ctx, sess.roomID, sess.callerID, p.DurationMinutes)
	default:
		return nil, domain.Validationf("unsupported message type %q", msg.Type)
	}
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return domain.Validationf("payload is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.Validationf("invalid payload: %v", err)
	}
	return nil
}
