package exam

import (
	"academy/internal/question"
)

type ResultItem struct {
	Number          int                    `json:"number"`
	QuestionID      string                 `json:"question_id"`
	Type            question.Type          `json:"type"`
	Content         string                 `json:"content"`
	ContentImageURL string                 `json:"content_image_url,omitempty"`
	Options         []question.Option      `json:"options,omitempty"`
	Answer          string                 `json:"answer"`
	IsCorrect       *bool                  `json:"is_correct"`
	PointsEarned    int                    `json:"points_earned"`
	CorrectAnswer   string                 `json:"correct_answer,omitempty"`
	Explanation     string                 `json:"explanation,omitempty"`
	RelatedLinks    []question.RelatedLink `json:"related_links,omitempty"`
}

type ResultView struct {
	Attempt   Attempt      `json:"attempt"`
	ExamTitle string       `json:"exam_title,omitempty"`
	Percent   int          `json:"percent"`
	Correct   int          `json:"correct"`
	Wrong     int          `json:"wrong"`
	Pending   int          `json:"pending"`
	Items     []ResultItem `json:"items,omitempty"`
	// ItemsHidden is set when per-question feedback is withheld from the
	// student until the exam closes.
	ItemsHidden bool `json:"items_hidden"`
}

// BuildResult renders an attempt against the current question bank. Answers
// whose question no longer exists are left out of the items.
func BuildResult(a Attempt, exam *Exam, bank map[string]question.Question, revealItems bool) ResultView {
	v := ResultView{Attempt: a, Percent: a.Percent()}
	if exam != nil {
		v.ExamTitle = exam.Title
	}
	for _, ans := range a.Answers {
		switch {
		case ans.IsCorrect == nil:
			v.Pending++
		case *ans.IsCorrect:
			v.Correct++
		default:
			v.Wrong++
		}
	}
	if !revealItems {
		v.ItemsHidden = true
		v.Attempt.Answers = nil
		return v
	}

	v.Items = make([]ResultItem, 0, len(a.Answers))
	for i, ans := range a.Answers {
		q, ok := bank[ans.QuestionID]
		if !ok {
			continue
		}
		v.Items = append(v.Items, ResultItem{
			Number:          i + 1,
			QuestionID:      q.ID,
			Type:            q.Type,
			Content:         q.Content,
			ContentImageURL: q.ContentImageURL,
			Options:         q.Options,
			Answer:          ans.Answer,
			IsCorrect:       ans.IsCorrect,
			PointsEarned:    ans.PointsEarned,
			CorrectAnswer:   q.CorrectAnswer,
			Explanation:     q.Explanation,
			RelatedLinks:    q.RelatedLinks,
		})
	}
	return v
}

// canViewItems decides whether per-question feedback is shown. Students see
// it right away when the exam allows, otherwise once the exam is closed.
func canViewItems(viewerIsStaff bool, exam *Exam) bool {
	if viewerIsStaff || exam == nil {
		return true
	}
	return exam.ShowResultImmediately || exam.Status == StatusClosed
}
