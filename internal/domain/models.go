package domain

import (
	"encoding/json"
	"time"
)

// Room is one scheduled or running quiz session.
type Room struct {
	ID              string     `json:"id"`
	Code            string     `json:"roomCode"`
	Name            string     `json:"roomName"`
	QuizID          string     `json:"quizId"`
	HostID          string     `json:"hostId"`
	Status          RoomStatus `json:"status"`
	DurationMinutes int        `json:"durationMinutes"`
	PerQuestionTime int        `json:"perQuestionTime,omitempty"` // seconds, 0 when unset
	StartTime       *time.Time `json:"startTime"`
	EndTime         *time.Time `json:"endTime"`
	AutoStart       bool       `json:"autoStart"`
	QuestionOrder   []string   `json:"questionOrder"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Duration returns the configured room length.
func (r Room) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// Expired reports whether the room has an end time at or before now.
func (r Room) Expired(now time.Time) bool {
	return r.EndTime != nil && !r.EndTime.After(now)
}

// QuestionDeadline returns the moment answers to the question at index stop being accepted.
// Without a per-question time every question shares the room end time.
func (r Room) QuestionDeadline(index int) (time.Time, bool) {
	if r.StartTime == nil || r.EndTime == nil || index < 0 {
		return time.Time{}, false
	}
	if r.PerQuestionTime <= 0 {
		return *r.EndTime, true
	}
	deadline := r.StartTime.Add(time.Duration(index+1) * time.Duration(r.PerQuestionTime) * time.Second)
	if deadline.After(*r.EndTime) {
		deadline = *r.EndTime
	}
	return deadline, true
}

// QuestionIndex returns the position of questionID in the frozen order, or -1.
func (r Room) QuestionIndex(questionID string) int {
	for i, id := range r.QuestionOrder {
		if id == questionID {
			return i
		}
	}
	return -1
}

// Participant is one user's (or anonymous visitor's) membership in a room.
type Participant struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"roomId"`
	UserID         string    `json:"userId,omitempty"`
	AnonymousToken string    `json:"anonymousToken,omitempty"`
	DisplayName    string    `json:"displayName"`
	Score          int       `json:"score"`
	IsLoggedIn     bool      `json:"isLoggedIn"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
}

// Identity describes who is joining a room. An empty UserID means an anonymous visitor.
type Identity struct {
	UserID      string `json:"userId" validate:"omitempty,max=128"`
	DisplayName string `json:"displayName" validate:"max=80"`
}

// Anonymous reports whether the identity carries no user reference.
func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

// Answer is the payload a participant submits for a question.
type Answer struct {
	OptionID string `json:"optionId,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Submission is one recorded answer attempt. Only the highest Sequence per
// (participant, question) counts toward scoring.
type Submission struct {
	ID              string    `json:"id"`
	ParticipantID   string    `json:"participantId"`
	RoomID          string    `json:"roomId"`
	QuestionID      string    `json:"questionId"`
	Answer          Answer    `json:"answer"`
	IsCorrect       bool      `json:"isCorrect"`
	Points          int       `json:"points"`
	Sequence        int       `json:"sequence"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
	SubmittedAt     time.Time `json:"submittedAt"`
}

// LatestSubmissions keeps only the highest-sequence submission per (participant, question).
func LatestSubmissions(subs []Submission) []Submission {
	type key struct{ participant, question string }
	latest := make(map[key]int, len(subs))
	out := make([]Submission, 0, len(subs))
	for _, sub := range subs {
		k := key{sub.ParticipantID, sub.QuestionID}
		if idx, ok := latest[k]; ok {
			if sub.Sequence > out[idx].Sequence {
				out[idx] = sub
			}
			continue
		}
		latest[k] = len(out)
		out = append(out, sub)
	}
	return out
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is either multiple choice (Options) or free text (AcceptedAnswers).
type Question struct {
	ID              string   `json:"id"`
	Prompt          string   `json:"prompt"`
	Type            string   `json:"type,omitempty"`
	Options         []Option `json:"options,omitempty"`
	AcceptedAnswers []string `json:"acceptedAnswers,omitempty"`
	Points          int      `json:"points"` // defaults to 1 if zero
}

// BankQuery draws Limit questions from a named pool when a room starts.
type BankQuery struct {
	Pool  string `json:"pool"`
	Limit int    `json:"limit"`
}

// Quiz is an authored question set owned by CreatorID.
type Quiz struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	CreatorID   string      `json:"creatorId"`
	Questions   []Question  `json:"questions"`
	BankQueries []BankQuery `json:"bankQueries,omitempty"`
}

// ParticipantView is a participant plus live presence.
type ParticipantView struct {
	Participant
	Online bool `json:"online"`
}

// RoomSnapshot is the read model clients use to resynchronize.
type RoomSnapshot struct {
	Room         Room              `json:"room"`
	Participants []ParticipantView `json:"participants"`
}

// RoomQuery filters a host's room listing.
type RoomQuery struct {
	Status RoomStatus
	Page   int
	Limit  int
}

// RoomSummary is a listing entry with the room's top scorers.
type RoomSummary struct {
	Room            Room               `json:"room"`
	TopParticipants []LeaderboardEntry `json:"topParticipants"`
}

// RoomPage is one page of a host's rooms.
type RoomPage struct {
	Rooms []RoomSummary `json:"rooms"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// LeaderboardEntry is a ranked view of a participant.
type LeaderboardEntry struct {
	Rank          int       `json:"rank"`
	ParticipantID string    `json:"participantId"`
	UserID        string    `json:"userId,omitempty"`
	DisplayName   string    `json:"displayName"`
	Score         int       `json:"score"`
	IsLoggedIn    bool      `json:"isLoggedIn"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// QuestionStat summarizes how a question was answered in a room.
type QuestionStat struct {
	QuestionID     string `json:"questionId"`
	Prompt         string `json:"prompt"`
	TotalAnswers   int    `json:"totalAnswers"`
	CorrectAnswers int    `json:"correctAnswers"`
	CorrectRate    int    `json:"correctRate"`
}

// RoomInfo is the header of a results payload.
type RoomInfo struct {
	RoomCode          string     `json:"roomCode"`
	RoomName          string     `json:"roomName"`
	QuizID            string     `json:"quizId"`
	QuizName          string     `json:"quizName"`
	TotalParticipants int        `json:"totalParticipants"`
	StartTime         *time.Time `json:"startTime"`
	EndTime           *time.Time `json:"endTime"`
	DurationMinutes   int        `json:"durationMinutes"`
}

// RoomResults is the host-facing results view.
type RoomResults struct {
	RoomInfo      RoomInfo           `json:"roomInfo"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
	QuestionStats []QuestionStat     `json:"questionStats"`
}

// AnswerStats counts a participant's latest answers.
type AnswerStats struct {
	TotalQuestions    int `json:"totalQuestions"`
	CorrectAnswers    int `json:"correctAnswers"`
	IncorrectAnswers  int `json:"incorrectAnswers"`
	CorrectPercentage int `json:"correctPercentage"`
}

// HistoryEntry is one past participation of a logged-in user.
type HistoryEntry struct {
	ParticipationID string      `json:"participationId"`
	Room            Room        `json:"room"`
	Score           int         `json:"score"`
	JoinedAt        time.Time   `json:"joinedAt"`
	Stats           AnswerStats `json:"stats"`
}

// SubmitResult summarizes the outcome of a submission.
type SubmitResult struct {
	SubmissionID string `json:"submissionId"`
	QuestionID   string `json:"questionId"`
	Correct      bool   `json:"correct"`
	Awarded      int    `json:"awarded"`
	TotalScore   int    `json:"totalScore"`
	Sequence     int    `json:"sequence"`
}

// SyncOutcome is the per-entry result of a batch replay.
type SyncOutcome string

const (
	SyncAccepted SyncOutcome = "accepted"
	SyncSkipped  SyncOutcome = "skipped"
	SyncRejected SyncOutcome = "rejected"
)

// SyncEntryResult reports what happened to one replayed answer.
type SyncEntryResult struct {
	QuestionID string        `json:"questionId"`
	Outcome    SyncOutcome   `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Result     *SubmitResult `json:"result,omitempty"`
}

// SyncResult is the outcome of a reconnect replay.
type SyncResult struct {
	Entries  []SyncEntryResult `json:"entries"`
	Accepted int               `json:"accepted"`
	Skipped  int               `json:"skipped"`
	Rejected int               `json:"rejected"`
}

// EventType names a server-to-client realtime event.
type EventType string

const (
	EventRoomStatusChanged EventType = "roomStatusChanged"
	EventParticipantJoined EventType = "participantJoined"
	EventParticipantLeft   EventType = "participantLeft"
	EventTimeUpdated       EventType = "room:time_updated"
	EventRoomEnded         EventType = "room:ended"
)

// Event is published on a room's channel.
type Event struct {
	Type    EventType       `json:"type"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent encodes payload into an event for roomID.
func NewEvent(typ EventType, roomID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, RoomID: roomID, Payload: raw}, nil
}

// StatusChange is the roomStatusChanged payload.
type StatusChange struct {
	RoomID        string     `json:"roomId"`
	Status        RoomStatus `json:"status"`
	EndTime       *time.Time `json:"endTime"`
	QuestionCount int        `json:"questionCount"`
}

// EndTimeUpdate is the payload of room:time_updated and room:ended.
type EndTimeUpdate struct {
	EndTime *time.Time `json:"endTime"`
}
