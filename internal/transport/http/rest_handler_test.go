package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"examroom-service/internal/domain"
)

func doJSON(t *testing.T, method, url, userID string, body any) (int, ackPayload) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set(callerHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env ackPayload
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func TestRESTRoomLifecycle(t *testing.T) {
	server, _ := newTestServer(t)

	status, env := doJSON(t, http.MethodPost, server.URL+"/rooms", "host-1", map[string]any{
		"quizId":          "quiz-1",
		"roomName":        "Friday quiz",
		"perQuestionTime": 90,
	})
	if status != http.StatusCreated || !env.Success {
		t.Fatalf("create: status=%d body=%+v", status, env)
	}
	var room domain.Room
	_ = json.Unmarshal(env.Data, &room)
	if room.DurationMinutes != 2 || room.Status != domain.RoomScheduled || len(room.Code) != 6 {
		t.Fatalf("unexpected room %+v", room)
	}

	status, env = doJSON(t, http.MethodGet, server.URL+"/codes/"+room.Code, "", nil)
	if status != http.StatusOK {
		t.Fatalf("get by code: status=%d body=%+v", status, env)
	}

	status, env = doJSON(t, http.MethodPost, server.URL+"/rooms/"+room.ID+"/start", "intruder", nil)
	if status != http.StatusForbidden || env.Kind != string(domain.KindAuthorization) {
		t.Fatalf("expected 403 for non-host start, got %d %+v", status, env)
	}

	status, _ = doJSON(t, http.MethodPost, server.URL+"/rooms/"+room.ID+"/start", "host-1", nil)
	if status != http.StatusOK {
		t.Fatalf("start: status=%d", status)
	}
	status, env = doJSON(t, http.MethodPost, server.URL+"/rooms/"+room.ID+"/start", "host-1", nil)
	if status != http.StatusConflict || env.Kind != string(domain.KindStateConflict) {
		t.Fatalf("expected 409 on second start, got %d %+v", status, env)
	}

	status, env = doJSON(t, http.MethodPost, server.URL+"/rooms/"+room.ID+"/participants", "u1", map[string]any{"displayName": "Ann"})
	if status != http.StatusOK {
		t.Fatalf("join: status=%d body=%+v", status, env)
	}
	var joined joinResponse
	_ = json.Unmarshal(env.Data, &joined)

	status, env = doJSON(t, http.MethodPost, server.URL+"/participants/"+joined.Participant.ID+"/answers", "u1", map[string]any{
		"questionId": "q1",
		"answer":     map[string]any{"optionId": "o2"},
	})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("submit: status=%d body=%+v", status, env)
	}

	status, _ = doJSON(t, http.MethodPost, server.URL+"/rooms/"+room.ID+"/complete", "host-1", nil)
	if status != http.StatusOK {
		t.Fatalf("complete: status=%d", status)
	}

	status, env = doJSON(t, http.MethodGet, server.URL+"/rooms/"+room.ID+"/results", "host-1", nil)
	if status != http.StatusOK {
		t.Fatalf("results: status=%d body=%+v", status, env)
	}
	var results domain.RoomResults
	_ = json.Unmarshal(env.Data, &results)
	if len(results.Leaderboard) != 1 || results.Leaderboard[0].Score != 1 || results.QuestionStats[0].CorrectRate != 100 {
		t.Fatalf("unexpected results %+v", results)
	}

	status, env = doJSON(t, http.MethodGet, server.URL+"/me/history", "u1", nil)
	if status != http.StatusOK {
		t.Fatalf("history: status=%d body=%+v", status, env)
	}
	var history []domain.HistoryEntry
	_ = json.Unmarshal(env.Data, &history)
	if len(history) != 1 || history[0].Stats.CorrectPercentage != 100 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestRESTMapsErrors(t *testing.T) {
	server, _ := newTestServer(t)

	status, env := doJSON(t, http.MethodGet, server.URL+"/rooms/missing", "", nil)
	if status != http.StatusNotFound || env.Success || env.Kind != string(domain.KindNotFound) {
		t.Fatalf("expected 404, got %d %+v", status, env)
	}

	status, env = doJSON(t, http.MethodPost, server.URL+"/rooms", "host-1", map[string]any{"quizId": "quiz-1"})
	if status != http.StatusBadRequest || env.Kind != string(domain.KindValidation) {
		t.Fatalf("expected 400 for missing name, got %d %+v", status, env)
	}

	status, env = doJSON(t, http.MethodGet, server.URL+"/rooms?page=abc", "host-1", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page, got %d %+v", status, env)
	}
}

func TestStatusForKinds(t *testing.T) {
	cases := map[domain.Kind]int{
		domain.KindValidation:     http.StatusBadRequest,
		domain.KindAuthorization:  http.StatusForbidden,
		domain.KindStateConflict:  http.StatusConflict,
		domain.KindNotFound:       http.StatusNotFound,
		domain.KindTransientStore: http.StatusServiceUnavailable,
		domain.KindInternal:       http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}
