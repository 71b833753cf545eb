package models

import (
	"time"
)

// TestDefinition is an ordered set of audio-comparison questions.
// It is immutable once a session has started: the session keeps its
// own copy and ignores later edits to the stored file.
type TestDefinition struct {
	Name      string     `json:"name" yaml:"name" validate:"required"`
	Questions []Question `json:"questions" yaml:"questions" validate:"required,min=1,dive"`
}

// Question is a single comparison: play audio1, pause, play audio2,
// then open an answer window.
type Question struct {
	ID            string   `json:"id" yaml:"id" validate:"required"`
	Name          string   `json:"name" yaml:"name"`
	WaitTime      int      `json:"wait_time" yaml:"wait_time" validate:"gt=0"`     // seconds before audio1
	PauseTime     int      `json:"pause_time" yaml:"pause_time" validate:"gt=0"`   // seconds between clips
	AnswerTime    int      `json:"answer_time" yaml:"answer_time" validate:"gt=0"` // seconds the answer window stays open
	Audio1        string   `json:"audio1" yaml:"audio1" validate:"required"`       // stimulus reference, resolved by the audio layer
	Audio2        string   `json:"audio2" yaml:"audio2" validate:"required"`
	Options       []Option `json:"options" yaml:"options" validate:"required,min=2,dive"`
	CorrectOption string   `json:"correct_option" yaml:"correct_option" validate:"required"`
	Instruction   string   `json:"instruction" yaml:"instruction"`
}

// Option is one selectable answer.
type Option struct {
	Value string `json:"value" yaml:"value" validate:"required"`
	Label string `json:"label" yaml:"label"`
}

// Stage is one phase of a question's timed presentation cycle.
type Stage string

const (
	StageWait   Stage = "wait"   // countdown before the first clip
	StageAudio1 Stage = "audio1" // first stimulus playing
	StagePause  Stage = "pause"  // silence between clips
	StageAudio2 Stage = "audio2" // second stimulus playing
	StageAnswer Stage = "answer" // answer window open
	StageReveal Stage = "reveal" // correct option shown
)

// SessionState is the lifecycle state of the test session.
type SessionState string

const (
	StateIdle    SessionState = "idle"
	StateRunning SessionState = "running"
	StatePaused  SessionState = "paused"
	StateEnded   SessionState = "ended"
)

// Role distinguishes the proctor driving the session from answering
// participants.
type Role string

const (
	RoleController Role = "controller"
	RoleRespondent Role = "respondent"
)

// Participant is one live connection's record. It exists only for the
// connection lifetime; answers already folded into the stats engine
// survive a disconnect.
type Participant struct {
	ID            string    `json:"id"`
	Role          Role      `json:"role"`
	CorrectCount  int       `json:"correct_count"`
	TotalAnswered int       `json:"total_answered"`
	CurrentAnswer string    `json:"current_answer"` // cleared on each new question
	Answers       []Answer  `json:"answers"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Answer is one recorded submission.
type Answer struct {
	QuestionID      int     `json:"question_id"` // index into the definition
	Option          string  `json:"option"`
	ClientTimestamp int64   `json:"client_timestamp"` // as reported by the client, ms
	Time            float64 `json:"time"`             // seconds from answer-window open to submit
	IsCorrect       bool    `json:"is_correct"`
}

// QuestionStats aggregates every counted answer for one question.
type QuestionStats struct {
	TotalAnswers   int                     `json:"total_answers"`
	CorrectAnswers int                     `json:"correct_answers"`
	CorrectRate    float64                 `json:"correct_rate"` // percent, 2 decimals
	AverageTime    float64                 `json:"average_time"` // seconds
	OptionCounts   map[string]int          `json:"option_counts"`
	Answers        map[string]AnswerRecord `json:"answers"` // participantID -> record, current question only
}

// AnswerRecord is the per-participant entry in QuestionStats.
type AnswerRecord struct {
	Option string  `json:"option"`
	Time   float64 `json:"time"`
}

// OverallStats folds all QuestionStats recorded so far.
type OverallStats struct {
	TotalAnswers   int     `json:"total_answers"`
	CorrectAnswers int     `json:"correct_answers"`
	CorrectRate    float64 `json:"correct_rate"`
	AverageTime    float64 `json:"average_time"`
}

// StatsSnapshot is an immutable copy of the engine state, safe to hand
// to the broadcast layer.
type StatsSnapshot struct {
	QuestionStats []QuestionStats `json:"question_stats"`
	OverallStats  OverallStats    `json:"overall_stats"`
}

// StageState is the broadcastable view of the scheduler position.
type StageState struct {
	State           SessionState `json:"state"`
	Stage           Stage        `json:"stage"`
	CurrentQuestion int          `json:"current_question"`
	RemainingTime   int          `json:"remaining_time"` // seconds left in the current stage
}

// SessionSnapshot is sent to a connection on join so it can resume
// mid-session.
type SessionSnapshot struct {
	Definition *TestDefinition `json:"definition,omitempty"`
	StageState StageState      `json:"stage_state"`
}
