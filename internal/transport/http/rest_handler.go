package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
	"github.com/sirupsen/logrus"
)

// callerHeader carries the authenticated user ID set by the gateway in front of
// this service.
const callerHeader = "X-User-ID"

// Services bundles the core components the transports call into.
type Services struct {
	Rooms        *app.RoomService
	Participants *app.ParticipantRegistry
	Submissions  *app.SubmissionIntake
	Results      *app.ResultsAggregator
	Events       app.Broadcaster
}

// RESTHandler is a thin JSON adapter over Services.
type RESTHandler struct {
	svc Services
	log logrus.FieldLogger
}

func NewRESTHandler(svc Services, log logrus.FieldLogger) *RESTHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RESTHandler{svc: svc, log: log}
}

// Register mounts the REST routes on mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms", h.createRoom)
	mux.HandleFunc("GET /rooms", h.listRooms)
	mux.HandleFunc("GET /rooms/{id}", h.getRoom)
	mux.HandleFunc("GET /codes/{code}", h.getRoomByCode)
	mux.HandleFunc("PATCH /rooms/{id}", h.updateScheduled)
	mux.HandleFunc("PATCH /rooms/{id}/duration", h.updateDuration)
	mux.HandleFunc("POST /rooms/{id}/start", h.startRoom)
	mux.HandleFunc("POST /rooms/{id}/complete", h.completeRoom)
	mux.HandleFunc("POST /rooms/{id}/cancel", h.cancelRoom)
	mux.HandleFunc("DELETE /rooms/{id}", h.deleteRoom)
	mux.HandleFunc("GET /rooms/{id}/end-time", h.endTime)
	mux.HandleFunc("GET /rooms/{id}/results", h.results)
	mux.HandleFunc("GET /rooms/{id}/leaderboard", h.leaderboard)
	mux.HandleFunc("POST /rooms/{id}/participants", h.join)
	mux.HandleFunc("DELETE /rooms/{id}/participants/{pid}", h.leave)
	mux.HandleFunc("POST /participants/{pid}/answers", h.submit)
	mux.HandleFunc("POST /participants/{pid}/sync", h.sync)
	mux.HandleFunc("GET /me/history", h.history)
}

func (h *RESTHandler) respond(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		body := failure(err)
		code := statusFor(body.Kind)
		if code >= http.StatusInternalServerError {
			h.log.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Error("request failed")
		}
		writeJSON(w, code, body)
		return
	}
	writeJSON(w, status, ok(data))
}

func decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return domain.Validationf("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Validationf("invalid request body: %v", err)
	}
	return nil
}

func caller(r *http.Request) string {
	return r.Header.Get(callerHeader)
}

func (h *RESTHandler) createRoom(w http.ResponseWriter, r *http.Request) {
	var in app.CreateRoomInput
	if err := decode(r, &in); err != nil {
		h.respond(w, r, 0, nil, err)
		return
	}
	in.HostID = caller(r)
	room, err := h.svc.Rooms.Create(r.Context(), in)
	h.respond(w, r, http.StatusCreated, room, err)
}

func (h *RESTHandler) listRooms(w http.ResponseWriter, r *http.Request) {
	q := domain.RoomQuery{Status: domain.RoomStatus(r.URL.Query().Get("status"))}
	var err error
	if q.Page, err = intParam(r, "page"); err != nil {
		h.respond(w, r, 0, nil, err)
		return
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		h.respond(w, r, 0, nil, err)
		return
	}
	page, err := h.svc.Rooms.ListByHost(r.Context(), caller(r), q)
	h.respond(w, r, http.StatusOK, page, err)
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validationf("%s must be a number", name)
	}
	return n, nil
}

func (h *RESTHandler) getRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Rooms.Get(r.Context(), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, snap, err)
}

func (h *RESTHandler) getRoomByCode(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Rooms.GetByCode(r.Context(), r.PathValue("code"))
	h.respond(w, r, http.StatusOK, snap, err)
}

func (h *RESTHandler) updateScheduled(w http.ResponseWriter, r *http.Request) {
	var upd app.ScheduledUpdate
	if err := decode(r, &upd); err != nil {
		h.respond(w, r, 0, nil, err)
		return
	}
	room, err := h.svc.Rooms.UpdateScheduled(r.Context(), r.PathValue("id"), caller(r), upd)
	h.respond(w, r, http.StatusOK, room, err)
}

type durationRequest struct {
	DurationMinutes int `json:"durationMinutes"`
}

func (h *RESTHandler) updateDuration(w http.ResponseWriter, r *http.Request) {
	var req durationRequest
	if err := decode(r, &req); err != nil {
		h.respond(w, r, 0, nil, err)
		return
	}
	room, err := h.svc.Rooms.UpdateActiveDuration(r.Context(), r.PathValue("id"), caller(r), req.DurationMinutes)
	h.respond(w, r, http.StatusOK, room, err)
}

func (h *RESTHandler) startRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.svc.Rooms.Start(r.Context(), r.PathValue("id"), caller(r))
	h.respond(w, r, http.StatusOK, room, err)
}

func (h *RESTHandler) completeRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.svc.Rooms.Complete(r.Context(), r.PathValue("id"), caller(r))
	h.respond(w, r, http.StatusOK, room, err)
}

func (h *RESTHandler) cancelRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.svc.Rooms.Cancel(r.Context(), r.PathValue("id"), caller(r))
	h.respond(w, r, http.StatusOK, room, err)
}

func (h *RESTHandler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Rooms.Delete(r.Context(), r.PathValue("id"), caller(r))
	h.respond(w, r, http.StatusOK, nil, err)
}

func (h *RESTHandler) endTime(w http.ResponseWriter, r *http.Request) {
	end, err := h.svc.Rooms.EndTime(r.Context(), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, domain.EndTimeUpdate{EndTime: end}, err)
}

func (h *RESTHandler) results(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Results.RoomResults(r.Context(), r.PathValue("id"), caller(r))
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *RESTHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.svc.Results.Leaderboard(r.Context(), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, lb, err)
}

type joinResponse struct {
	Participant domain.Participant  `json:"participant"`
	Room        domain.RoomSnapshot `json:"room"`
}

func (h *RESTHandler) join(w http.ResponseWriter, r *http.Request) {
	var id domain.Identity
	if r.ContentLength != 0 {
		if err := decode(r, &id); err != nil {
			h.respond(w, r, 0, nil, err)
			return
		}
	}
	// only the gateway may assert a logged-in identity
	id.UserID = caller(r)
	p, snap, err := h.svc.Participants.Join(r.Context(), r.PathValue("id"), id)
	h.respond(w, r, http.StatusOK, joinResponse{Participant: p, Room: snap}, err)
}

func (h *RESTHandler) leave(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Participants.Leave(r.Context(), r.PathValue("id"), r.PathValue("pid"))
	h.respond(w, r, http.StatusOK, snap, err)
}

func (h *RESTHandler) submit(w http.ResponseWriter, r *http.Request) {
	var in app.AnswerInput
	if err := decode(r, &in); err != nil {
		h.respond(w, r, 0, nil, err)
		return
	}
	res, err := h.svc.Submissions.Submit(r.Context(), r.PathValue("pid"), in)
	h.respond(w, r, http.StatusOK, res, err)
}

type syncRequest struct {
	Entries []app.AnswerInput `json:"entries"`
}

func (h *RESTHandler) sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decode(r, &req); err != nil {
		h.respond(w, r, 0, nil, err)
		return
	}
	res, err := h.svc.Submissions.SyncBatch(r.Context(), r.PathValue("pid"), req.Entries)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *RESTHandler) history(w http.ResponseWriter, r *http.Request) {
	userID := caller(r)
	if userID == "" {
		h.respond(w, r, 0, nil, domain.Forbiddenf("login required"))
		return
	}
	entries, err := h.svc.Results.UserHistory(r.Context(), userID)
	h.respond(w, r, http.StatusOK, entries, err)
}
