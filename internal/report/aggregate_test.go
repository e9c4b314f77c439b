package report

import (
	"testing"
	"time"

	"academy/internal/exam"
	"academy/internal/question"
	"academy/internal/wrongnote"
)

var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func boolPtr(v bool) *bool { return &v }

func attempt(id string, at time.Time, score, total int, answers ...exam.Answer) exam.Attempt {
	return exam.Attempt{
		ID:          id,
		ExamID:      "e1",
		StudentID:   "stu-1",
		Status:      exam.AttemptGraded,
		StartedAt:   at.Add(-time.Hour),
		SubmittedAt: &at,
		Score:       &score,
		TotalPoints: total,
		Answers:     answers,
	}
}

func answer(questionID string, correct *bool) exam.Answer {
	return exam.Answer{QuestionID: questionID, IsCorrect: correct}
}

func testBank() map[string]question.Question {
	return map[string]question.Question{
		"qa": {ID: "qa", Type: question.TypeMultipleChoice, Difficulty: question.DifficultyLow, Chapter: "A"},
		"qb": {ID: "qb", Type: question.TypeTrueFalse, Difficulty: question.DifficultyLow, Chapter: "B"},
		"qc": {ID: "qc", Type: question.TypeShortAnswer, Difficulty: question.DifficultyHigh},
		"qe": {ID: "qe", Type: question.TypeEssay, Difficulty: question.DifficultyHigh, Chapter: "A"},
	}
}

func TestChapterStatsWeakestFirst(t *testing.T) {
	attempts := []exam.Attempt{
		attempt("a1", base, 1, 1, answer("qa", boolPtr(true))),
		attempt("a2", base.Add(time.Hour), 0, 1, answer("qb", boolPtr(false))),
	}
	d := Aggregate(attempts, testBank(), nil)

	if len(d.Chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(d.Chapters))
	}
	b, a := d.Chapters[0], d.Chapters[1]
	if b.Key != "B" || *b.Rate != 0 || b.Correct != 0 || b.Total != 1 {
		t.Fatalf("expected B 0%% (0/1) first, got %+v", b)
	}
	if a.Key != "A" || *a.Rate != 100 || a.Correct != 1 || a.Total != 1 {
		t.Fatalf("expected A 100%% (1/1) second, got %+v", a)
	}
}

func TestHistoryOrderedBySubmission(t *testing.T) {
	attempts := []exam.Attempt{
		attempt("late", base.Add(48*time.Hour), 1, 2),
		attempt("early", base, 2, 3),
	}
	exams := []exam.Exam{{ID: "e1", Title: "Midterm"}}
	d := Aggregate(attempts, testBank(), exams)

	if len(d.History) != 2 || d.History[0].AttemptID != "early" || d.History[1].AttemptID != "late" {
		t.Fatalf("expected early then late, got %+v", d.History)
	}
	if d.History[0].Percent != 67 || d.History[0].ExamTitle != "Midterm" {
		t.Fatalf("unexpected first point: %+v", d.History[0])
	}
	if d.Summary.BestPercent != 67 || d.Summary.AveragePercent != 59 {
		t.Fatalf("expected best 67 average 59, got %+v", d.Summary)
	}
}

func TestDifficultyAndTypeBuckets(t *testing.T) {
	attempts := []exam.Attempt{
		attempt("a1", base, 1, 3,
			answer("qa", boolPtr(true)),
			answer("qb", boolPtr(false)),
			answer("qe", nil),
		),
	}
	d := Aggregate(attempts, testBank(), nil)

	if len(d.Difficulties) != 3 {
		t.Fatalf("expected 3 difficulty levels, got %d", len(d.Difficulties))
	}
	low, medium, high := d.Difficulties[0], d.Difficulties[1], d.Difficulties[2]
	if low.Rate == nil || *low.Rate != 50 || low.Total != 2 {
		t.Fatalf("expected low 50%% over 2, got %+v", low)
	}
	if medium.Rate != nil || high.Rate != nil {
		t.Fatalf("expected empty levels without rate, got %+v %+v", medium, high)
	}

	byType := map[string]Bucket{}
	for _, b := range d.Types {
		byType[b.Key] = b
	}
	if *byType[string(question.TypeMultipleChoice)].Rate != 100 {
		t.Fatalf("expected multiple choice 100%%")
	}
	if byType[string(question.TypeEssay)].Rate != nil {
		t.Fatalf("expected ungraded essay excluded")
	}
}

func TestSummaryExcludesUngradedAndCountsDeletedQuestions(t *testing.T) {
	attempts := []exam.Attempt{
		attempt("a1", base, 2, 4,
			answer("qa", boolPtr(true)),
			answer("gone", boolPtr(true)),
			answer("qb", boolPtr(false)),
			answer("qe", nil),
		),
	}
	d := Aggregate(attempts, testBank(), nil)

	if d.Summary.TotalAnswered != 3 || d.Summary.TotalCorrect != 2 || d.Summary.Accuracy != 67 {
		t.Fatalf("unexpected summary: %+v", d.Summary)
	}
	total := 0
	for _, c := range d.Chapters {
		total += c.Total
	}
	if total != 2 {
		t.Fatalf("expected deleted question left out of chapters, got %d answers", total)
	}
}

func TestAggregateIgnoresInProgressAndEmpty(t *testing.T) {
	open := attempt("open", base, 0, 1, answer("qa", boolPtr(false)))
	open.Status = exam.AttemptInProgress
	d := Aggregate([]exam.Attempt{open}, testBank(), nil)

	if d.Summary.Attempts != 0 || len(d.History) != 0 || len(d.Chapters) != 0 {
		t.Fatalf("expected empty dashboard, got %+v", d)
	}
	if d.Summary.Accuracy != 0 || d.Summary.AveragePercent != 0 {
		t.Fatalf("expected zero summary, got %+v", d.Summary)
	}
}

func TestDefaultChapterBucket(t *testing.T) {
	d := Aggregate([]exam.Attempt{attempt("a1", base, 1, 1, answer("qc", boolPtr(true)))}, testBank(), nil)
	if len(d.Chapters) != 1 || d.Chapters[0].Key != question.DefaultChapter {
		t.Fatalf("expected default chapter, got %+v", d.Chapters)
	}
}

func TestWeakAreas(t *testing.T) {
	bank := map[string]question.Question{
		"a1": {ID: "a1", Chapter: "A"},
		"a2": {ID: "a2", Chapter: "A"},
		"b1": {ID: "b1", Chapter: "B"},
		"c1": {ID: "c1", Chapter: "C"},
		"x1": {ID: "x1"},
	}
	notes := []wrongnote.Note{
		{ID: "1", QuestionID: "a1"},
		{ID: "2", QuestionID: "a2"},
		{ID: "3", QuestionID: "b1"},
		{ID: "4", QuestionID: "c1", Reviewed: true},
		{ID: "5", QuestionID: "x1"},
		{ID: "6", QuestionID: "deleted"},
	}

	got := WeakAreas(notes, bank, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 chapters, got %+v", got)
	}
	if got[0].Chapter != "A" || got[0].Count != 2 {
		t.Fatalf("expected A with 2 first, got %+v", got[0])
	}
	if got[1].Chapter != "B" || got[2].Chapter != question.DefaultChapter {
		t.Fatalf("expected ties ordered by name, got %+v", got)
	}

	if top := WeakAreas(notes, bank, 1); len(top) != 1 || top[0].Chapter != "A" {
		t.Fatalf("expected only A, got %+v", top)
	}
}
