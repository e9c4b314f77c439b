package question

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
	ErrQuestionExists   = errors.New("question id already exists")
)

type Type string

const (
	TypeMultipleChoice Type = "multiple_choice"
	TypeShortAnswer    Type = "short_answer"
	TypeTrueFalse      Type = "true_false"
	TypeEssay          Type = "essay"
)

func (t Type) Valid() bool {
	switch t {
	case TypeMultipleChoice, TypeShortAnswer, TypeTrueFalse, TypeEssay:
		return true
	}
	return false
}

const (
	DifficultyLow    = 1
	DifficultyMedium = 2
	DifficultyHigh   = 3
)

const (
	SourceManual      = "manual"
	SourceAIGenerated = "ai_generated"
)

const (
	AnswerTrue  = "O"
	AnswerFalse = "X"
)

// DefaultChapter buckets questions with no chapter.
const DefaultChapter = "기타"

type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type RelatedLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Type  string `json:"type,omitempty"`
}

type Question struct {
	ID              string        `json:"id"`
	Type            Type          `json:"type"`
	Difficulty      int           `json:"difficulty"`
	School          string        `json:"school,omitempty"`
	Grade           string        `json:"grade,omitempty"`
	SchoolLevel     string        `json:"school_level,omitempty"`
	Textbook        string        `json:"textbook,omitempty"`
	Chapter         string        `json:"chapter,omitempty"`
	SubTopic        string        `json:"sub_topic,omitempty"`
	Content         string        `json:"content"`
	ContentImageURL string        `json:"content_image_url,omitempty"`
	Options         []Option      `json:"options,omitempty"`
	CorrectAnswer   string        `json:"correct_answer"`
	AnswerTolerance *float64      `json:"answer_tolerance,omitempty"`
	Explanation     string        `json:"explanation,omitempty"`
	RelatedLinks    []RelatedLink `json:"related_links,omitempty"`
	Source          string        `json:"source"`
	Tags            []string      `json:"tags,omitempty"`
	CreatedBy       string        `json:"created_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ChapterLabel returns the chapter, or DefaultChapter when blank.
func (q Question) ChapterLabel() string {
	if c := strings.TrimSpace(q.Chapter); c != "" {
		return c
	}
	return DefaultChapter
}

// AnswerKey is the type-specific answer payload of a question. The concrete
// types below are the only implementations.
type AnswerKey interface {
	answerKey()
}

// ChoiceKey holds the 1-based index of the correct option, as a string.
type ChoiceKey struct{ Index string }

// TrueFalseKey holds "O" or "X".
type TrueFalseKey struct{ Value string }

type ShortAnswerKey struct {
	Text      string
	Tolerance *float64
}

type EssayKey struct{}

type UnknownKey struct{ Type Type }

func (ChoiceKey) answerKey()      {}
func (TrueFalseKey) answerKey()   {}
func (ShortAnswerKey) answerKey() {}
func (EssayKey) answerKey()       {}
func (UnknownKey) answerKey()     {}

func (q Question) Key() AnswerKey {
	switch q.Type {
	case TypeMultipleChoice:
		return ChoiceKey{Index: q.CorrectAnswer}
	case TypeTrueFalse:
		return TrueFalseKey{Value: q.CorrectAnswer}
	case TypeShortAnswer:
		return ShortAnswerKey{Text: q.CorrectAnswer, Tolerance: q.AnswerTolerance}
	case TypeEssay:
		return EssayKey{}
	default:
		return UnknownKey{Type: q.Type}
	}
}

var optionMarkers = []rune("①②③④⑤⑥⑦⑧⑨⑩⑪⑫⑬⑭⑮⑯⑰⑱⑲⑳")

// OptionLabel returns the positional marker for the option at index i.
func OptionLabel(i int) string {
	if i >= 0 && i < len(optionMarkers) {
		return string(optionMarkers[i])
	}
	return strconv.Itoa(i + 1)
}

// Normalize trims free-text fields, upper-cases true/false keys and relabels
// options by position.
func Normalize(q Question) Question {
	q.Type = Type(strings.ToLower(strings.TrimSpace(string(q.Type))))
	q.School = strings.TrimSpace(q.School)
	q.Grade = strings.TrimSpace(q.Grade)
	q.SchoolLevel = strings.TrimSpace(q.SchoolLevel)
	q.Textbook = strings.TrimSpace(q.Textbook)
	q.Chapter = strings.TrimSpace(q.Chapter)
	q.SubTopic = strings.TrimSpace(q.SubTopic)
	q.Content = strings.TrimSpace(q.Content)
	q.ContentImageURL = strings.TrimSpace(q.ContentImageURL)
	q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
	q.Explanation = strings.TrimSpace(q.Explanation)
	q.Source = strings.TrimSpace(q.Source)
	if q.Source == "" {
		q.Source = SourceManual
	}
	if q.Type == TypeTrueFalse {
		q.CorrectAnswer = strings.ToUpper(q.CorrectAnswer)
	}

	options := make([]Option, 0, len(q.Options))
	for i, o := range q.Options {
		options = append(options, Option{Label: OptionLabel(i), Text: strings.TrimSpace(o.Text)})
	}
	if len(options) == 0 {
		options = nil
	}
	q.Options = options

	tags := make([]string, 0, len(q.Tags))
	seen := map[string]struct{}{}
	for _, t := range q.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		tags = nil
	}
	q.Tags = tags
	return q
}

func Validate(q Question) error {
	if q.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if !q.Type.Valid() {
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidInput, q.Type)
	}
	if q.Difficulty < DifficultyLow || q.Difficulty > DifficultyHigh {
		return fmt.Errorf("%w: difficulty must be between 1 and 3", ErrInvalidInput)
	}
	if q.Source != SourceManual && q.Source != SourceAIGenerated {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, q.Source)
	}
	for _, l := range q.RelatedLinks {
		if strings.TrimSpace(l.URL) == "" {
			return fmt.Errorf("%w: related link url is required", ErrInvalidInput)
		}
	}

	switch q.Type {
	case TypeMultipleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: multiple choice needs at least 2 options", ErrInvalidInput)
		}
		for i, o := range q.Options {
			if o.Text == "" {
				return fmt.Errorf("%w: option %d is empty", ErrInvalidInput, i+1)
			}
		}
		idx, err := strconv.Atoi(q.CorrectAnswer)
		if err != nil || idx < 1 || idx > len(q.Options) || strconv.Itoa(idx) != q.CorrectAnswer {
			return fmt.Errorf("%w: correct answer must be an option number from 1 to %d", ErrInvalidInput, len(q.Options))
		}
	case TypeTrueFalse:
		if q.CorrectAnswer != AnswerTrue && q.CorrectAnswer != AnswerFalse {
			return fmt.Errorf("%w: true/false answer must be O or X", ErrInvalidInput)
		}
	case TypeShortAnswer:
		if q.CorrectAnswer == "" {
			return fmt.Errorf("%w: short answer needs a correct answer", ErrInvalidInput)
		}
		if q.AnswerTolerance != nil && *q.AnswerTolerance < 0 {
			return fmt.Errorf("%w: answer tolerance must not be negative", ErrInvalidInput)
		}
	}
	return nil
}
