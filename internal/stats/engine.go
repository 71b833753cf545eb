package stats

import (
	"fmt"
	"math"
	"sync"

	"github.com/hearlab/listentest/internal/models"
)

// Engine maintains per-question and overall statistics for one session.
// Updates are incremental: recording an answer never walks the answer
// history, only the per-question aggregates.
type Engine struct {
	mu        sync.RWMutex
	questions []models.QuestionStats
	overall   models.OverallStats
}

// NewEngine creates an engine with no allocated questions. Reset must be
// called when a session starts.
func NewEngine() *Engine {
	return &Engine{}
}

// Reset discards all aggregates and allocates one empty QuestionStats
// per question of the new definition.
func (e *Engine) Reset(questionCount int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.questions = make([]models.QuestionStats, questionCount)
	for i := range e.questions {
		e.questions[i] = emptyQuestionStats()
	}
	e.overall = models.OverallStats{}
}

// RecordAnswer folds one accepted answer into the named question's
// aggregates and recomputes the overall totals.
func (e *Engine) RecordAnswer(questionIndex int, participantID, option string, isCorrect bool, latency float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if questionIndex < 0 || questionIndex >= len(e.questions) {
		return fmt.Errorf("question index %d out of range [0,%d)", questionIndex, len(e.questions))
	}

	q := &e.questions[questionIndex]
	q.TotalAnswers++
	if isCorrect {
		q.CorrectAnswers++
	}
	q.CorrectRate = rate(q.CorrectAnswers, q.TotalAnswers)
	// incremental running mean, O(1) per answer
	q.AverageTime += (latency - q.AverageTime) / float64(q.TotalAnswers)
	q.OptionCounts[option]++
	q.Answers[participantID] = models.AnswerRecord{Option: option, Time: latency}

	e.refoldOverall()
	return nil
}

// refoldOverall recomputes the folded totals across all questions.
// O(questionCount), which runs once per accepted answer.
func (e *Engine) refoldOverall() {
	var total, correct int
	var timeSum float64
	for i := range e.questions {
		q := &e.questions[i]
		total += q.TotalAnswers
		correct += q.CorrectAnswers
		timeSum += q.AverageTime * float64(q.TotalAnswers)
	}

	e.overall = models.OverallStats{
		TotalAnswers:   total,
		CorrectAnswers: correct,
		CorrectRate:    rate(correct, total),
	}
	if total > 0 {
		e.overall.AverageTime = round2(timeSum / float64(total))
	}
}

// Snapshot returns a deep copy of the current statistics. Callers never
// see a live-mutable reference.
func (e *Engine) Snapshot() models.StatsSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := models.StatsSnapshot{
		QuestionStats: make([]models.QuestionStats, len(e.questions)),
		OverallStats:  e.overall,
	}
	for i := range e.questions {
		snap.QuestionStats[i] = copyQuestionStats(&e.questions[i])
	}
	return snap
}

// Question returns a copy of one question's aggregates.
func (e *Engine) Question(index int) (models.QuestionStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if index < 0 || index >= len(e.questions) {
		return models.QuestionStats{}, fmt.Errorf("question index %d out of range [0,%d)", index, len(e.questions))
	}
	return copyQuestionStats(&e.questions[index]), nil
}

// Overall returns the current folded totals.
func (e *Engine) Overall() models.OverallStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.overall
}

func emptyQuestionStats() models.QuestionStats {
	return models.QuestionStats{
		OptionCounts: make(map[string]int),
		Answers:      make(map[string]models.AnswerRecord),
	}
}

func copyQuestionStats(q *models.QuestionStats) models.QuestionStats {
	c := *q
	c.OptionCounts = make(map[string]int, len(q.OptionCounts))
	for k, v := range q.OptionCounts {
		c.OptionCounts[k] = v
	}
	c.Answers = make(map[string]models.AnswerRecord, len(q.Answers))
	for k, v := range q.Answers {
		c.Answers[k] = v
	}
	return c
}

// rate is the percentage of correct answers, rounded to two decimals,
// zero when nothing has been answered.
func rate(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(correct) / float64(total) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
