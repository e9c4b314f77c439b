package exam

import (
	"math"
	"strconv"
	"strings"

	"academy/internal/question"
)

// Result is the outcome of grading one answer. Correct is nil when the
// answer needs a human grader.
type Result struct {
	Correct *bool `json:"correct"`
}

// Grade checks raw against the question's answer key. It never fails:
// malformed numbers fall back to text comparison and unknown types grade as
// incorrect.
func Grade(q question.Question, raw string) Result {
	switch k := q.Key().(type) {
	case question.ChoiceKey:
		return result(strings.TrimSpace(raw) == k.Index)
	case question.TrueFalseKey:
		return result(strings.TrimSpace(raw) == k.Value)
	case question.ShortAnswerKey:
		return gradeShortAnswer(k, raw)
	case question.EssayKey:
		return Result{}
	default:
		return result(false)
	}
}

func gradeShortAnswer(k question.ShortAnswerKey, raw string) Result {
	if k.Tolerance != nil {
		got, okGot := parseFinite(raw)
		want, okWant := parseFinite(k.Text)
		if okGot && okWant {
			return result(math.Abs(got-want) <= *k.Tolerance)
		}
	}
	return result(normalizeText(raw) == normalizeText(k.Text))
}

func parseFinite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// normalizeText lower-cases s and drops all whitespace, so "Seo ul" and
// "seoul" compare equal.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func result(v bool) Result {
	return Result{Correct: boolPtr(v)}
}

func boolPtr(v bool) *bool {
	return &v
}
