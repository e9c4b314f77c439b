// Package report derives a student's learning dashboard from stored
// attempts, the question bank and the exam catalog.
package report

import (
	"sort"
	"time"

	"academy/internal/exam"
	"academy/internal/question"
	"academy/internal/wrongnote"
)

const DefaultWeakAreaLimit = 5

type ScorePoint struct {
	AttemptID   string    `json:"attempt_id"`
	ExamID      string    `json:"exam_id"`
	ExamTitle   string    `json:"exam_title"`
	SubmittedAt time.Time `json:"submitted_at"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	Percent     int       `json:"percent"`
}

// Bucket is the accuracy of one chapter, difficulty or type. Rate is nil
// when nothing was answered in the bucket.
type Bucket struct {
	Key     string `json:"key"`
	Correct int    `json:"correct"`
	Total   int    `json:"total"`
	Rate    *int   `json:"rate"`
}

type Summary struct {
	Attempts       int `json:"attempts"`
	TotalAnswered  int `json:"total_answered"`
	TotalCorrect   int `json:"total_correct"`
	Accuracy       int `json:"accuracy"`
	AveragePercent int `json:"average_percent"`
	BestPercent    int `json:"best_percent"`
}

type Dashboard struct {
	History      []ScorePoint `json:"history"`
	Chapters     []Bucket     `json:"chapters"`
	Difficulties []Bucket     `json:"difficulties"`
	Types        []Bucket     `json:"types"`
	Summary      Summary      `json:"summary"`
}

type ChapterCount struct {
	Chapter string `json:"chapter"`
	Count   int    `json:"count"`
}

var (
	difficultyKeys = []int{question.DifficultyLow, question.DifficultyMedium, question.DifficultyHigh}
	typeKeys       = []question.Type{question.TypeMultipleChoice, question.TypeShortAnswer, question.TypeTrueFalse, question.TypeEssay}
)

type tally struct {
	correct int
	total   int
}

func (t *tally) add(correct bool) {
	t.total++
	if correct {
		t.correct++
	}
}

func (t tally) bucket(key string) Bucket {
	b := Bucket{Key: key, Correct: t.correct, Total: t.total}
	if t.total > 0 {
		rate := exam.Percent(t.correct, t.total)
		b.Rate = &rate
	}
	return b
}

// Aggregate builds the dashboard for one student's attempts. Attempts that
// are still in progress are ignored, as are answers awaiting manual grading.
// Answers whose question was deleted count toward the summary only.
func Aggregate(attempts []exam.Attempt, questions map[string]question.Question, exams []exam.Exam) Dashboard {
	titles := make(map[string]string, len(exams))
	for _, e := range exams {
		titles[e.ID] = e.Title
	}

	completed := make([]exam.Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Completed() {
			completed = append(completed, a)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return submittedAt(completed[i]).Before(submittedAt(completed[j]))
	})

	d := Dashboard{History: make([]ScorePoint, 0, len(completed))}
	chapters := map[string]*tally{}
	difficulties := map[int]*tally{}
	types := map[question.Type]*tally{}
	var overall tally
	percentSum := 0

	for _, a := range completed {
		score := 0
		if a.Score != nil {
			score = *a.Score
		}
		p := a.Percent()
		d.History = append(d.History, ScorePoint{
			AttemptID:   a.ID,
			ExamID:      a.ExamID,
			ExamTitle:   titles[a.ExamID],
			SubmittedAt: submittedAt(a),
			Score:       score,
			Total:       a.TotalPoints,
			Percent:     p,
		})
		percentSum += p
		if p > d.Summary.BestPercent {
			d.Summary.BestPercent = p
		}

		for _, ans := range a.Answers {
			if ans.IsCorrect == nil {
				continue
			}
			ok := *ans.IsCorrect
			overall.add(ok)
			q, found := questions[ans.QuestionID]
			if !found {
				continue
			}
			tallyFor(chapters, q.ChapterLabel()).add(ok)
			tallyFor(difficulties, q.Difficulty).add(ok)
			tallyFor(types, q.Type).add(ok)
		}
	}

	d.Chapters = make([]Bucket, 0, len(chapters))
	for label, t := range chapters {
		d.Chapters = append(d.Chapters, t.bucket(label))
	}
	sort.Slice(d.Chapters, func(i, j int) bool {
		ri, rj := *d.Chapters[i].Rate, *d.Chapters[j].Rate
		if ri != rj {
			return ri < rj
		}
		return d.Chapters[i].Key < d.Chapters[j].Key
	})

	d.Difficulties = make([]Bucket, 0, len(difficultyKeys))
	for _, level := range difficultyKeys {
		d.Difficulties = append(d.Difficulties, valueOf(difficulties[level]).bucket(difficultyLabel(level)))
	}
	d.Types = make([]Bucket, 0, len(typeKeys))
	for _, typ := range typeKeys {
		d.Types = append(d.Types, valueOf(types[typ]).bucket(string(typ)))
	}

	d.Summary.Attempts = len(completed)
	d.Summary.TotalAnswered = overall.total
	d.Summary.TotalCorrect = overall.correct
	d.Summary.Accuracy = exam.Percent(overall.correct, overall.total)
	if len(completed) > 0 {
		d.Summary.AveragePercent = (percentSum*2 + len(completed)) / (len(completed) * 2)
	}
	return d
}

// WeakAreas counts unreviewed wrong notes per chapter, most frequent first,
// and keeps the top n. Notes whose question was deleted are skipped.
func WeakAreas(notes []wrongnote.Note, questions map[string]question.Question, n int) []ChapterCount {
	if n <= 0 {
		n = DefaultWeakAreaLimit
	}
	counts := map[string]int{}
	for _, note := range notes {
		if note.Reviewed {
			continue
		}
		q, ok := questions[note.QuestionID]
		if !ok {
			continue
		}
		counts[q.ChapterLabel()]++
	}

	out := make([]ChapterCount, 0, len(counts))
	for chapter, c := range counts {
		out = append(out, ChapterCount{Chapter: chapter, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Chapter < out[j].Chapter
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func tallyFor[K comparable](m map[K]*tally, key K) *tally {
	t, ok := m[key]
	if !ok {
		t = &tally{}
		m[key] = t
	}
	return t
}

func valueOf(t *tally) tally {
	if t == nil {
		return tally{}
	}
	return *t
}

func difficultyLabel(level int) string {
	switch level {
	case question.DifficultyLow:
		return "low"
	case question.DifficultyMedium:
		return "medium"
	default:
		return "high"
	}
}

func submittedAt(a exam.Attempt) time.Time {
	if a.SubmittedAt != nil {
		return *a.SubmittedAt
	}
	return a.StartedAt
}
