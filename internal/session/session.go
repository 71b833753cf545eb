package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearlab/listentest/internal/models"
	"github.com/hearlab/listentest/internal/registry"
	"github.com/hearlab/listentest/internal/stats"
)

// Sender is the slice of the connection registry the session needs.
type Sender interface {
	Broadcast(target registry.Target, msg models.Envelope)
	SendTo(participantID string, msg models.Envelope)
	Participant(participantID string) *models.Participant
	ForEachRespondent(fn func(p *models.Participant))
}

// Hooks let the surrounding application react to session lifecycle
// events. Each hook runs on its own goroutine, so a hook may safely
// call back into the session.
type Hooks struct {
	OnStarted    func(def *models.TestDefinition)
	OnEnded      func(overall models.OverallStats)
	OnPresenting func(audioID string)
}

// Config carries the stage timings not owned by the test definition.
type Config struct {
	StimulusSeconds int           // fixed length of each presenting stage
	RevealSeconds   int           // how long the reveal stage stays up
	TickInterval    time.Duration // countdown resolution
}

// DefaultConfig mirrors the timings the clients assume.
func DefaultConfig() Config {
	return Config{
		StimulusSeconds: 5,
		RevealSeconds:   5,
		TickInterval:    time.Second,
	}
}

// Session is the single authoritative owner of test state. All state
// lives behind one mutex; inbound commands, answers and timer ticks
// serialize on it, so races between an expiring stage and a landing
// answer resolve in lock-acquisition order.
type Session struct {
	mu    sync.Mutex
	reg   Sender
	stats *stats.Engine
	log   *zap.Logger
	hooks Hooks
	cfg   Config

	state     models.SessionState
	def       *models.TestDefinition
	current   int // question index, -1 while idle
	stage     models.Stage
	remaining int // ticks left in the current stage

	// generation invalidates countdown goroutines armed for a
	// superseded stage. Bumped on every stage entry, pause and stop.
	generation uint64

	answered       map[string]struct{} // participant ids counted for the current question
	answerOpenedAt time.Time
}

// New creates an idle session.
func New(reg Sender, engine *stats.Engine, log *zap.Logger, hooks Hooks, cfg Config) *Session {
	if cfg.TickInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Session{
		reg:     reg,
		stats:   engine,
		log:     log,
		hooks:   hooks,
		cfg:     cfg,
		state:   models.StateIdle,
		current: -1,
	}
}

// Start begins a new session run from question 0. Valid from idle or
// ended only.
func (s *Session) Start(def models.TestDefinition) error {
	if len(def.Questions) == 0 {
		return ErrInvalidDefinition
	}

	s.mu.Lock()
	if s.state == models.StateRunning || s.state == models.StatePaused {
		s.mu.Unlock()
		return ErrInvalidState
	}

	s.def = cloneDefinition(def)
	s.state = models.StateRunning
	s.current = 0
	s.answered = make(map[string]struct{})
	s.stats.Reset(len(s.def.Questions))

	// canonical snapshot: the same payload late joiners receive
	s.stage = models.StageWait
	s.remaining = s.def.Questions[0].WaitTime
	s.reg.Broadcast(registry.TargetAll, models.Envelope{
		Type: models.TypeTestStart,
		Payload: models.TestStartPayload{
			Definition: s.def,
			StageState: s.stageStateLocked(),
		},
	})
	s.armCountdownLocked()
	s.log.Info("test started",
		zap.String("test", s.def.Name),
		zap.Int("questions", len(s.def.Questions)))
	started := s.def // hooks see the session's own copy, not the caller's
	s.mu.Unlock()

	if s.hooks.OnStarted != nil {
		go s.hooks.OnStarted(started)
	}
	return nil
}

// Pause suspends the countdown without losing remaining time.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.StateRunning {
		return ErrInvalidState
	}
	s.state = models.StatePaused
	s.generation++ // the live countdown dies on its next tick
	s.broadcastStageLocked()
	s.log.Info("test paused", zap.Int("question", s.current), zap.Int("remaining", s.remaining))
	return nil
}

// Resume restarts the countdown from the preserved remaining time.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.StatePaused {
		return ErrInvalidState
	}
	s.state = models.StateRunning
	s.broadcastStageLocked()
	s.armCountdownLocked()
	s.log.Info("test resumed", zap.Int("question", s.current), zap.Int("remaining", s.remaining))
	return nil
}

// Advance skips to the next stage in the fixed sequence, cancelling the
// pending countdown. Automatic stage expiry takes the same path.
func (s *Session) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.StateRunning {
		return ErrInvalidState
	}
	s.advanceLocked()
	return nil
}

// Stop forces the session to ended from any active state. Idempotent
// once ended.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case models.StateEnded:
		return nil
	case models.StateIdle:
		return ErrInvalidState
	}
	s.endLocked()
	return nil
}

// SubmitAnswer validates and records one answer. First answer wins:
// later resubmissions for the same question are rejected, not
// overwritten.
func (s *Session) SubmitAnswer(participantID string, questionID int, option string, clientTS int64) (*models.AnswerResultPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.def == nil {
		return nil, ErrNotAnswerable
	}
	if questionID != s.current {
		return nil, ErrStaleQuestion
	}
	if s.state != models.StateRunning || s.stage != models.StageAnswer {
		return nil, ErrNotAnswerable
	}
	if _, dup := s.answered[participantID]; dup {
		return nil, ErrAlreadyAnswered
	}

	q := s.def.Questions[s.current]
	isCorrect := option == q.CorrectOption
	latency := time.Since(s.answerOpenedAt).Seconds()

	s.answered[participantID] = struct{}{}
	answer := models.Answer{
		QuestionID:      s.current,
		Option:          option,
		ClientTimestamp: clientTS,
		Time:            latency,
		IsCorrect:       isCorrect,
	}
	if p := s.reg.Participant(participantID); p != nil {
		p.CurrentAnswer = option
		p.TotalAnswered++
		if isCorrect {
			p.CorrectCount++
		}
		p.Answers = append(p.Answers, answer)
	}

	if err := s.stats.RecordAnswer(s.current, participantID, option, isCorrect, latency); err != nil {
		s.log.Error("stats update failed", zap.Error(err))
	}

	snap := s.stats.Snapshot()
	s.reg.Broadcast(registry.TargetControllers, models.Envelope{
		Type: models.TypeAnswerSubmitted,
		Payload: models.AnswerSubmittedPayload{
			ParticipantID: participantID,
			Answer:        answer,
			IsCorrect:     isCorrect,
		},
	})
	s.reg.Broadcast(registry.TargetControllers, models.Envelope{
		Type: models.TypeStatsUpdate,
		Payload: models.StatsUpdatePayload{
			QuestionStats: snap.QuestionStats,
			OverallStats:  snap.OverallStats,
		},
	})

	result := &models.AnswerResultPayload{
		IsCorrect:     isCorrect,
		CorrectOption: q.CorrectOption,
	}
	s.reg.SendTo(participantID, models.Envelope{
		Type:    models.TypeAnswerResult,
		Payload: *result,
	})
	return result, nil
}

// Snapshot returns the join-time view of the session.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.SessionSnapshot{StageState: s.stageStateLocked()}
	if s.def != nil {
		snap.Definition = cloneDefinition(*s.def)
	}
	return snap
}

// Stats returns an immutable copy of the current statistics.
func (s *Session) Stats() models.StatsSnapshot {
	return s.stats.Snapshot()
}

// State reports the lifecycle state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ---- stage scheduler ----

// armCountdownLocked starts a countdown goroutine for the current
// stage, invalidating any previous one.
func (s *Session) armCountdownLocked() {
	s.generation++
	go s.runCountdown(s.generation)
}

// runCountdown drives one stage's ticks. If processing falls behind the
// ticker, elapsed intervals are applied in one step so the remaining
// time catches up instead of drifting.
func (s *Session) runCountdown(gen uint64) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for now := range ticker.C {
		steps := int(now.Sub(last) / s.cfg.TickInterval)
		if steps < 1 {
			steps = 1
		}
		last = last.Add(time.Duration(steps) * s.cfg.TickInterval)
		if !s.tick(gen, steps) {
			return
		}
	}
}

// tick applies elapsed intervals to the current stage. Returns false
// when this countdown is done, stale or superseded.
func (s *Session) tick(gen uint64, steps int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.state != models.StateRunning {
		return false
	}
	s.remaining -= steps
	if s.remaining <= 0 {
		s.advanceLocked()
		return false
	}
	s.broadcastStageLocked()
	return true
}

// advanceLocked moves to the next stage in the fixed per-question
// sequence: wait, audio1, pause, audio2, answer, reveal, then the next
// question's wait or the end of the test.
func (s *Session) advanceLocked() {
	q := s.def.Questions[s.current]

	switch s.stage {
	case models.StageWait:
		s.enterStageLocked(models.StageAudio1, s.cfg.StimulusSeconds)
	case models.StageAudio1:
		s.enterStageLocked(models.StagePause, q.PauseTime)
	case models.StagePause:
		s.enterStageLocked(models.StageAudio2, s.cfg.StimulusSeconds)
	case models.StageAudio2:
		s.enterStageLocked(models.StageAnswer, q.AnswerTime)
	case models.StageAnswer:
		s.enterStageLocked(models.StageReveal, s.cfg.RevealSeconds)
	case models.StageReveal:
		if s.current+1 >= len(s.def.Questions) {
			s.endLocked()
			return
		}
		s.current++
		s.answered = make(map[string]struct{})
		s.reg.ForEachRespondent(func(p *models.Participant) {
			p.CurrentAnswer = ""
		})
		s.reg.Broadcast(registry.TargetAll, models.Envelope{
			Type:    models.TypeNextQuestion,
			Payload: models.NextQuestionPayload{Index: s.current},
		})
		s.enterStageLocked(models.StageWait, s.def.Questions[s.current].WaitTime)
	}
}

// enterStageLocked sets the new stage, announces it and arms its
// countdown.
func (s *Session) enterStageLocked(stage models.Stage, duration int) {
	s.stage = stage
	s.remaining = duration

	switch stage {
	case models.StageAudio1, models.StageAudio2:
		audioID := s.def.Questions[s.current].Audio1
		if stage == models.StageAudio2 {
			audioID = s.def.Questions[s.current].Audio2
		}
		s.reg.Broadcast(registry.TargetAll, models.Envelope{
			Type:    models.TypePlayAudio,
			Payload: models.PlayAudioPayload{AudioID: audioID},
		})
		if s.hooks.OnPresenting != nil {
			go s.hooks.OnPresenting(audioID)
		}
	case models.StageAnswer:
		s.answerOpenedAt = time.Now()
	}

	s.broadcastStageLocked()
	s.armCountdownLocked()
}

// endLocked transitions to ended and publishes the final statistics.
func (s *Session) endLocked() {
	s.state = models.StateEnded
	s.remaining = 0
	s.generation++ // no stray countdown may outlive the session

	overall := s.stats.Overall()
	s.reg.Broadcast(registry.TargetAll, models.Envelope{
		Type:    models.TypeTestEnd,
		Payload: models.TestEndPayload{OverallStats: overall},
	})
	s.log.Info("test ended",
		zap.Int("total_answers", overall.TotalAnswers),
		zap.Int("correct_answers", overall.CorrectAnswers))

	if s.hooks.OnEnded != nil {
		go s.hooks.OnEnded(overall)
	}
}

func (s *Session) broadcastStageLocked() {
	s.reg.Broadcast(registry.TargetAll, models.Envelope{
		Type:    models.TypeStageUpdate,
		Payload: s.stageStateLocked(),
	})
}

func (s *Session) stageStateLocked() models.StageState {
	return models.StageState{
		State:           s.state,
		Stage:           s.stage,
		CurrentQuestion: s.current,
		RemainingTime:   s.remaining,
	}
}

// cloneDefinition copies a definition so the session's copy stays
// immutable for the whole run.
func cloneDefinition(def models.TestDefinition) *models.TestDefinition {
	d := def
	d.Questions = make([]models.Question, len(def.Questions))
	copy(d.Questions, def.Questions)
	for i := range d.Questions {
		opts := make([]models.Option, len(d.Questions[i].Options))
		copy(opts, d.Questions[i].Options)
		d.Questions[i].Options = opts
	}
	return &d
}
