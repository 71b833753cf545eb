package models

import (
	"encoding/json"
	"fmt"
)

// Message type discriminators. The protocol is a closed union: anything
// not listed here is rejected as malformed.
const (
	// inbound from the controller
	TypeStartTest    = "start-test"
	TypePauseTest    = "pause-test"
	TypeResumeTest   = "resume-test"
	TypeStopTest     = "stop-test"
	TypeNextQuestion = "next-question" // also broadcast outbound with the new index

	// inbound from respondents
	TypeAnswer = "answer"

	// outbound
	TypeTestStart         = "test-start"
	TypeStageUpdate       = "stage-update"
	TypeTestEnd           = "test-end"
	TypePlayAudio         = "play-audio"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeStatsUpdate       = "stats-update"
	TypeAnswerSubmitted   = "answer-submitted"
	TypeAnswerResult      = "answer-result"
	TypeError             = "error"
)

// Envelope wraps every message sent over a connection.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// InboundEnvelope defers payload decoding until the type is known.
type InboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartTestPayload carries either an inline definition or the name of a
// stored one.
type StartTestPayload struct {
	Definition *TestDefinition `json:"definition,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// AnswerPayload is a respondent's submission for the current question.
type AnswerPayload struct {
	QuestionID      int    `json:"question_id"`
	Option          string `json:"option"`
	ClientTimestamp int64  `json:"client_timestamp"`
}

// TestStartPayload doubles as the join-time snapshot for late and
// rejoining connections.
type TestStartPayload struct {
	Definition *TestDefinition `json:"definition"`
	StageState StageState      `json:"stage_state"`
}

// NextQuestionPayload announces the new question index.
type NextQuestionPayload struct {
	Index int `json:"index"`
}

// TestEndPayload carries the final folded statistics.
type TestEndPayload struct {
	OverallStats OverallStats `json:"overall_stats"`
}

// PlayAudioPayload tells clients which stimulus to play.
type PlayAudioPayload struct {
	AudioID string `json:"audio_id"`
}

// ParticipantJoinedPayload notifies controllers of a new respondent.
type ParticipantJoinedPayload struct {
	ID               string `json:"id"`
	ParticipantCount int    `json:"participant_count"`
}

// ParticipantLeftPayload notifies controllers of a disconnect.
type ParticipantLeftPayload struct {
	ID               string `json:"id"`
	ParticipantCount int    `json:"participant_count"`
}

// StatsUpdatePayload is pushed to controllers after each counted answer.
type StatsUpdatePayload struct {
	QuestionStats []QuestionStats `json:"question_stats"`
	OverallStats  OverallStats    `json:"overall_stats"`
}

// AnswerSubmittedPayload notifies controllers of one new data point.
type AnswerSubmittedPayload struct {
	ParticipantID string `json:"participant_id"`
	Answer        Answer `json:"answer"`
	IsCorrect     bool   `json:"is_correct"`
}

// AnswerResultPayload is the submitter's private result.
type AnswerResultPayload struct {
	Rejected      bool   `json:"rejected"`
	Reason        string `json:"reason,omitempty"`
	IsCorrect     bool   `json:"is_correct"`
	CorrectOption string `json:"correct_option,omitempty"`
}

// ErrorPayload is sent to the connection whose command or answer was
// rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeInbound parses one client frame and returns its typed payload.
// The returned value is *StartTestPayload, *AnswerPayload, or nil for
// the bare command types.
func DecodeInbound(data []byte) (*InboundEnvelope, interface{}, error) {
	var env InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("malformed envelope: %w", err)
	}

	switch env.Type {
	case TypeStartTest:
		var p StartTestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return &env, &p, nil
	case TypeAnswer:
		var p AnswerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return &env, &p, nil
	case TypePauseTest, TypeResumeTest, TypeStopTest, TypeNextQuestion:
		return &env, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
