package exam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"academy/internal/autosave"
	"academy/internal/identity"
	"academy/internal/question"
	"academy/internal/wrongnote"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSessionNotFound      = errors.New("exam session not found")
	ErrSessionNotActive     = errors.New("exam session is not in progress")
	ErrConfirmationRequired = errors.New("submit requires confirmation")
	ErrQuestionNotInSession = errors.New("question is not part of this session")
)

type SessionState string

const (
	StateLoading    SessionState = "loading"
	StateInProgress SessionState = "in_progress"
	StateSubmitting SessionState = "submitting"
	StateSubmitted  SessionState = "submitted"
	StateLoadFailed SessionState = "load_failed"
)

const (
	TimerNormal   = "normal"
	TimerWarning  = "warning"
	TimerCritical = "critical"

	warningThresholdSecs  = 300
	criticalThresholdSecs = 60
)

type examSource interface {
	Get(ctx context.Context, id string) (*Exam, error)
}

type questionSource interface {
	List(ctx context.Context) ([]question.Question, error)
}

type attemptRepo interface {
	ListByStudent(ctx context.Context, studentID string, completedOnly bool) ([]Attempt, error)
	Upsert(ctx context.Context, a Attempt) (*Attempt, error)
}

type noteRecorder interface {
	Record(ctx context.Context, notes []wrongnote.Note) (int, error)
}

// Recorder receives session events for metrics.
type Recorder interface {
	AttemptSubmitted(status, trigger string)
	WrongNotesCreated(n int)
	ActiveSessions(n int)
}

type nopRecorder struct{}

func (nopRecorder) AttemptSubmitted(string, string) {}
func (nopRecorder) WrongNotesCreated(int)           {}
func (nopRecorder) ActiveSessions(int)              {}

// SessionDeps are the collaborators shared by every session.
type SessionDeps struct {
	Exams     examSource
	Questions questionSource
	Attempts  attemptRepo
	Notes     noteRecorder
	Autosave  autosave.Cache
	Recorder  Recorder
	Logger    *zap.Logger
	// Checkpoint also writes an in-progress attempt on every answer change.
	Checkpoint bool
	Now        func() time.Time
	Shuffle    func(n int, swap func(i, j int))
}

func (d *SessionDeps) withDefaults() *SessionDeps {
	out := *d
	if out.Recorder == nil {
		out.Recorder = nopRecorder{}
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Shuffle == nil {
		out.Shuffle = rand.Shuffle
	}
	return &out
}

// Session is one student's run through one exam, from loading to submit.
type Session struct {
	mu   sync.Mutex
	deps *SessionDeps

	examID  string
	student identity.User

	state   SessionState
	loadErr error

	exam        Exam
	questions   []question.Question
	optionOrder map[string][]int
	answers     map[string]string
	flags       map[string]bool
	current     int

	timed     bool
	remaining int

	attemptID string
	startedAt time.Time
	result    *Attempt

	onFinish func()
}

func NewSession(deps *SessionDeps, student identity.User, examID string) *Session {
	return &Session{
		deps:    deps.withDefaults(),
		examID:  examID,
		student: student,
		state:   StateLoading,
		answers: map[string]string{},
		flags:   map[string]bool{},
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Load fetches the exam and its questions and enters in_progress. It is also
// the retry path out of load_failed; on an already loaded session it is a
// no-op.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoading && s.state != StateLoadFailed {
		return nil
	}
	s.state = StateLoading
	s.loadErr = nil
	if err := s.load(ctx); err != nil {
		s.state = StateLoadFailed
		s.loadErr = err
		return err
	}
	s.state = StateInProgress
	return nil
}

func (s *Session) load(ctx context.Context) error {
	var (
		exam  *Exam
		bank  []question.Question
		prior []Attempt
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exam, err = s.deps.Exams.Get(gctx, s.examID)
		return err
	})
	g.Go(func() error {
		var err error
		bank, err = s.deps.Questions.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		prior, err = s.deps.Attempts.ListByStudent(gctx, s.student.ID, false)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load exam session: %w", err)
	}
	s.repairNotes(ctx, prior)

	now := s.deps.Now()
	if !exam.Attemptable(now) {
		return ErrExamNotAvailable
	}
	if s.student.Role == identity.RoleStudent && !exam.Targets(s.student.School) {
		return ErrExamNotAvailable
	}

	completed := 0
	var resume *Attempt
	for i := range prior {
		a := prior[i]
		if a.ExamID != exam.ID {
			continue
		}
		if a.Completed() {
			completed++
			continue
		}
		if a.Status == AttemptInProgress && (resume == nil || a.StartedAt.After(resume.StartedAt)) {
			resume = &prior[i]
		}
	}
	if completed > 0 && !exam.AllowRetry {
		return ErrRetryNotAllowed
	}
	if exam.MaxAttempts > 0 && completed >= exam.MaxAttempts {
		return ErrAttemptLimitReached
	}

	byID := question.Index(bank)
	questions := make([]question.Question, 0, len(exam.QuestionIDs))
	for _, id := range exam.QuestionIDs {
		if q, ok := byID[id]; ok {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return ErrExamEmpty
	}
	if exam.ShuffleQuestions {
		s.deps.Shuffle(len(questions), func(i, j int) { questions[i], questions[j] = questions[j], questions[i] })
	}

	optionOrder := make(map[string][]int)
	if exam.ShuffleOptions {
		for _, q := range questions {
			if q.Type != question.TypeMultipleChoice || len(q.Options) < 2 {
				continue
			}
			order := make([]int, len(q.Options))
			for i := range order {
				order[i] = i
			}
			s.deps.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
			optionOrder[q.ID] = order
		}
	}

	s.exam = *exam
	s.questions = questions
	s.optionOrder = optionOrder
	s.current = 0
	s.flags = map[string]bool{}
	s.timed = exam.TimeLimitMinutes != nil && *exam.TimeLimitMinutes > 0
	if s.timed {
		s.remaining = *exam.TimeLimitMinutes * 60
	}
	if resume != nil {
		s.attemptID = resume.ID
		s.startedAt = resume.StartedAt
	} else {
		s.attemptID = uuid.NewString()
		s.startedAt = now.UTC()
	}
	s.answers = s.restoreAnswers(ctx, resume)
	return nil
}

// repairNotes re-records the wrong notes of this exam's completed attempts.
// A submit that stored the attempt but failed on the notes leaves them
// missing; note ids are derived from attempt and question, so notes that
// exist are left alone.
func (s *Session) repairNotes(ctx context.Context, prior []Attempt) {
	var notes []wrongnote.Note
	for _, a := range prior {
		if a.ExamID != s.examID || !a.Completed() {
			continue
		}
		at := a.StartedAt
		if a.SubmittedAt != nil {
			at = *a.SubmittedAt
		}
		notes = append(notes, WrongNotes(a, at)...)
	}
	if len(notes) == 0 {
		return
	}
	added, err := s.deps.Notes.Record(ctx, notes)
	if err != nil {
		s.deps.Logger.Warn("repair wrong notes failed", zap.String("exam_id", s.examID), zap.String("student_id", s.student.ID), zap.Error(err))
		return
	}
	if added > 0 {
		s.deps.Logger.Info("restored missing wrong notes", zap.String("exam_id", s.examID), zap.String("student_id", s.student.ID), zap.Int("count", added))
		s.deps.Recorder.WrongNotesCreated(added)
	}
}

func (s *Session) restoreAnswers(ctx context.Context, resume *Attempt) map[string]string {
	inSession := make(map[string]struct{}, len(s.questions))
	for _, q := range s.questions {
		inSession[q.ID] = struct{}{}
	}
	out := map[string]string{}

	raw, found, err := s.deps.Autosave.Get(ctx, s.autosaveKey())
	if err != nil {
		s.deps.Logger.Warn("read autosave failed", zap.String("exam_id", s.examID), zap.String("student_id", s.student.ID), zap.Error(err))
	}
	if found {
		saved := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &saved); err != nil {
			s.deps.Logger.Warn("discard malformed autosave", zap.String("exam_id", s.examID), zap.Error(err))
		} else {
			for id, v := range saved {
				if _, ok := inSession[id]; ok && v != "" {
					out[id] = v
				}
			}
			return out
		}
	}

	if resume != nil {
		for _, a := range resume.Answers {
			if _, ok := inSession[a.QuestionID]; ok && a.Answer != "" {
				out[a.QuestionID] = a.Answer
			}
		}
	}
	return out
}

// SetAnswer captures the answer for a question and persists progress. An
// empty answer clears it. True/false answers are stored upper-case.
func (s *Session) SetAnswer(ctx context.Context, questionID, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInProgress {
		return ErrSessionNotActive
	}
	q, ok := s.findQuestion(questionID)
	if !ok {
		return ErrQuestionNotInSession
	}
	value := strings.TrimSpace(raw)
	if q.Type == question.TypeTrueFalse {
		value = strings.ToUpper(value)
	}
	if q.Type == question.TypeEssay || q.Type == question.TypeShortAnswer {
		value = raw
	}
	if strings.TrimSpace(value) == "" {
		delete(s.answers, questionID)
	} else {
		s.answers[questionID] = value
	}
	s.persistProgress(ctx)
	return nil
}

func (s *Session) persistProgress(ctx context.Context) {
	payload, err := json.Marshal(s.answers)
	if err == nil {
		err = s.deps.Autosave.Set(ctx, s.autosaveKey(), string(payload))
	}
	if err != nil {
		s.deps.Logger.Warn("autosave failed", zap.String("exam_id", s.examID), zap.String("student_id", s.student.ID), zap.Error(err))
	}

	if !s.deps.Checkpoint {
		return
	}
	snapshot := s.snapshot()
	if _, err := s.deps.Attempts.Upsert(ctx, snapshot); err != nil {
		s.deps.Logger.Warn("checkpoint attempt failed", zap.String("attempt_id", s.attemptID), zap.Error(err))
	}
}

func (s *Session) snapshot() Attempt {
	answers := make([]Answer, 0, len(s.answers))
	for _, q := range s.questions {
		if v, ok := s.answers[q.ID]; ok {
			answers = append(answers, Answer{QuestionID: q.ID, Answer: v})
		}
	}
	return Attempt{
		ID:          s.attemptID,
		ExamID:      s.exam.ID,
		StudentID:   s.student.ID,
		StudentName: s.student.Name,
		StartedAt:   s.startedAt,
		Status:      AttemptInProgress,
		TotalPoints: len(s.questions),
		Answers:     answers,
	}
}

func (s *Session) Next() error {
	return s.move(func(cur int) (int, error) {
		if cur < len(s.questions)-1 {
			return cur + 1, nil
		}
		return cur, nil
	})
}

func (s *Session) Prev() error {
	return s.move(func(cur int) (int, error) {
		if cur > 0 {
			return cur - 1, nil
		}
		return cur, nil
	})
}

// Jump moves to the zero-based question index.
func (s *Session) Jump(index int) error {
	return s.move(func(int) (int, error) {
		if index < 0 || index >= len(s.questions) {
			return 0, fmt.Errorf("%w: question index %d out of range", ErrInvalidInput, index)
		}
		return index, nil
	})
}

func (s *Session) move(fn func(cur int) (int, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return ErrSessionNotActive
	}
	next, err := fn(s.current)
	if err != nil {
		return err
	}
	s.current = next
	return nil
}

// ToggleFlag flips the review flag of a question and returns the new value.
// Flags live only in the session.
func (s *Session) ToggleFlag(questionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return false, ErrSessionNotActive
	}
	if _, ok := s.findQuestion(questionID); !ok {
		return false, ErrQuestionNotInSession
	}
	if s.flags[questionID] {
		delete(s.flags, questionID)
		return false, nil
	}
	s.flags[questionID] = true
	return true, nil
}

// abandon releases an evicted in-progress session. Its answers stay in
// autosave.
func (s *Session) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInProgress && s.onFinish != nil {
		s.onFinish()
		s.onFinish = nil
	}
}

// Tick advances the countdown by one second and submits when it reaches
// zero. It reports whether the session is now submitted.
func (s *Session) Tick(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSubmitted {
		return true, nil
	}
	if s.state != StateInProgress || !s.timed {
		return false, nil
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining > 0 {
		return false, nil
	}
	if _, err := s.submitLocked(ctx, TriggerTimer); err != nil {
		return false, err
	}
	return true, nil
}

// Submit grades and stores the attempt. Submitting an already submitted
// session returns the stored attempt again.
func (s *Session) Submit(ctx context.Context, confirmed bool) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSubmitted && s.result != nil {
		out := *s.result
		return &out, nil
	}
	if s.state != StateInProgress {
		return nil, ErrSessionNotActive
	}
	if !confirmed {
		return nil, ErrConfirmationRequired
	}
	return s.submitLocked(ctx, TriggerManual)
}

func (s *Session) submitLocked(ctx context.Context, trigger string) (*Attempt, error) {
	s.state = StateSubmitting
	now := s.deps.Now().UTC()

	answers := make([]Answer, 0, len(s.questions))
	score := 0
	pending := false
	for _, q := range s.questions {
		raw := s.answers[q.ID]
		r := Grade(q, raw)
		points := 0
		switch {
		case r.Correct == nil:
			pending = true
		case *r.Correct:
			points = 1
			score++
		}
		answers = append(answers, Answer{QuestionID: q.ID, Answer: raw, IsCorrect: r.Correct, PointsEarned: points})
	}

	status := AttemptGraded
	if pending {
		status = AttemptSubmitted
	}
	attempt := Attempt{
		ID:            s.attemptID,
		ExamID:        s.exam.ID,
		StudentID:     s.student.ID,
		StudentName:   s.student.Name,
		StartedAt:     s.startedAt,
		SubmittedAt:   &now,
		Status:        status,
		TotalPoints:   len(s.questions),
		Score:         &score,
		Answers:       answers,
		SubmitTrigger: trigger,
	}

	if _, err := s.deps.Attempts.Upsert(ctx, attempt); err != nil {
		s.state = StateInProgress
		return nil, fmt.Errorf("save attempt: %w", err)
	}

	notes := WrongNotes(attempt, now)
	added, err := s.deps.Notes.Record(ctx, notes)
	if err != nil {
		s.state = StateInProgress
		return nil, fmt.Errorf("save wrong notes: %w", err)
	}

	if err := s.deps.Autosave.Remove(ctx, s.autosaveKey()); err != nil {
		s.deps.Logger.Warn("clear autosave failed", zap.String("exam_id", s.examID), zap.String("student_id", s.student.ID), zap.Error(err))
	}

	s.state = StateSubmitted
	s.result = &attempt
	s.deps.Recorder.AttemptSubmitted(string(status), trigger)
	if added > 0 {
		s.deps.Recorder.WrongNotesCreated(added)
	}
	s.deps.Logger.Info("attempt submitted",
		zap.String("attempt_id", attempt.ID),
		zap.String("exam_id", attempt.ExamID),
		zap.String("student_id", attempt.StudentID),
		zap.String("status", string(status)),
		zap.String("trigger", trigger),
		zap.Int("score", score),
		zap.Int("total_points", attempt.TotalPoints),
	)
	if s.onFinish != nil {
		s.onFinish()
		s.onFinish = nil
	}
	out := attempt
	return &out, nil
}

// WrongNotes builds one note per answer graded strictly incorrect.
func WrongNotes(a Attempt, at time.Time) []wrongnote.Note {
	var out []wrongnote.Note
	for _, ans := range a.Answers {
		if ans.IsCorrect == nil || *ans.IsCorrect {
			continue
		}
		out = append(out, wrongnote.Note{
			ID:            wrongnote.NoteID(a.ID, ans.QuestionID),
			StudentID:     a.StudentID,
			QuestionID:    ans.QuestionID,
			AttemptID:     a.ID,
			StudentAnswer: ans.Answer,
			CreatedAt:     at,
		})
	}
	return out
}

func (s *Session) findQuestion(id string) (question.Question, bool) {
	for _, q := range s.questions {
		if q.ID == id {
			return q, true
		}
	}
	return question.Question{}, false
}

func (s *Session) autosaveKey() string {
	return autosave.Key(s.student.ID, s.examID)
}

type OptionView struct {
	// Index is the 1-based position of the option in the question as
	// authored; it is the value to submit as the answer.
	Index string `json:"index"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

type QuestionView struct {
	ID              string        `json:"id"`
	Number          int           `json:"number"`
	Type            question.Type `json:"type"`
	Difficulty      int           `json:"difficulty"`
	Content         string        `json:"content"`
	ContentImageURL string        `json:"content_image_url,omitempty"`
	Options         []OptionView  `json:"options,omitempty"`
	Answer          string        `json:"answer"`
	Flagged         bool          `json:"flagged"`
}

type NavItem struct {
	Number     int    `json:"number"`
	QuestionID string `json:"question_id"`
	Answered   bool   `json:"answered"`
	Flagged    bool   `json:"flagged"`
}

type SessionView struct {
	ExamID           string        `json:"exam_id"`
	ExamTitle        string        `json:"exam_title,omitempty"`
	AttemptID        string        `json:"attempt_id,omitempty"`
	State            SessionState  `json:"state"`
	LoadError        string        `json:"load_error,omitempty"`
	Current          int           `json:"current"`
	Total            int           `json:"total"`
	Answered         int           `json:"answered"`
	Question         *QuestionView `json:"question,omitempty"`
	Navigator        []NavItem     `json:"navigator,omitempty"`
	RemainingSeconds *int          `json:"remaining_seconds"`
	TimerLevel       string        `json:"timer_level,omitempty"`
	Result           *Attempt      `json:"-"`
}

func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := SessionView{
		ExamID:    s.examID,
		ExamTitle: s.exam.Title,
		AttemptID: s.attemptID,
		State:     s.state,
		Current:   s.current,
		Total:     len(s.questions),
		Answered:  len(s.answers),
	}
	if s.loadErr != nil {
		v.LoadError = s.loadErr.Error()
	}
	if s.result != nil {
		out := *s.result
		v.Result = &out
	}
	if s.timed {
		remaining := s.remaining
		v.RemainingSeconds = &remaining
		v.TimerLevel = TimerLevel(remaining)
	}
	if s.state != StateInProgress && s.state != StateSubmitting {
		return v
	}

	v.Navigator = make([]NavItem, 0, len(s.questions))
	for i, q := range s.questions {
		_, answered := s.answers[q.ID]
		v.Navigator = append(v.Navigator, NavItem{Number: i + 1, QuestionID: q.ID, Answered: answered, Flagged: s.flags[q.ID]})
	}
	if s.current < len(s.questions) {
		q := s.questions[s.current]
		v.Question = &QuestionView{
			ID:              q.ID,
			Number:          s.current + 1,
			Type:            q.Type,
			Difficulty:      q.Difficulty,
			Content:         q.Content,
			ContentImageURL: q.ContentImageURL,
			Options:         s.presentOptions(q),
			Answer:          s.answers[q.ID],
			Flagged:         s.flags[q.ID],
		}
	}
	return v
}

func (s *Session) presentOptions(q question.Question) []OptionView {
	if len(q.Options) == 0 {
		return nil
	}
	order, ok := s.optionOrder[q.ID]
	if !ok {
		order = make([]int, len(q.Options))
		for i := range order {
			order[i] = i
		}
	}
	out := make([]OptionView, 0, len(order))
	for pos, orig := range order {
		out = append(out, OptionView{
			Index: strconv.Itoa(orig + 1),
			Label: question.OptionLabel(pos),
			Text:  q.Options[orig].Text,
		})
	}
	return out
}

// TimerLevel classifies the remaining seconds for display.
func TimerLevel(remaining int) string {
	switch {
	case remaining <= criticalThresholdSecs:
		return TimerCritical
	case remaining <= warningThresholdSecs:
		return TimerWarning
	default:
		return TimerNormal
	}
}
