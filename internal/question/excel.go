package question

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// List cells (options, tags, related_links) are exported as JSON arrays so
// newlines and commas inside values survive a round trip. Hand-written sheets
// may still use one option per line and comma-separated tags.
const (
	legacyOptionSeparator = "\n"
	legacyTagSeparator    = ","
)

var excelHeaders = []string{
	"id", "type", "difficulty", "school", "grade", "school_level", "textbook",
	"chapter", "sub_topic", "content", "content_image_url", "options", "correct_answer",
	"answer_tolerance", "explanation", "related_links", "tags", "source",
}

// carriedColumns keep their stored value when an imported sheet overwrites a
// question but lacks the column.
var carriedColumns = map[string]func(dst *Question, stored Question){
	"school":            func(dst *Question, stored Question) { dst.School = stored.School },
	"grade":             func(dst *Question, stored Question) { dst.Grade = stored.Grade },
	"school_level":      func(dst *Question, stored Question) { dst.SchoolLevel = stored.SchoolLevel },
	"textbook":          func(dst *Question, stored Question) { dst.Textbook = stored.Textbook },
	"chapter":           func(dst *Question, stored Question) { dst.Chapter = stored.Chapter },
	"sub_topic":         func(dst *Question, stored Question) { dst.SubTopic = stored.SubTopic },
	"content_image_url": func(dst *Question, stored Question) { dst.ContentImageURL = stored.ContentImageURL },
	"explanation":       func(dst *Question, stored Question) { dst.Explanation = stored.Explanation },
	"related_links":     func(dst *Question, stored Question) { dst.RelatedLinks = stored.RelatedLinks },
	"tags":              func(dst *Question, stored Question) { dst.Tags = stored.Tags },
}

type ImportRowError struct {
	Row   int    `json:"row"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

func (s *Service) ExportExcel(ctx context.Context, f Filter) ([]byte, error) {
	items, err := s.Filter(ctx, f)
	if err != nil {
		return nil, err
	}

	x := excelize.NewFile()
	defer func() { _ = x.Close() }()
	sheet := x.GetSheetName(0)
	for i, h := range excelHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = x.SetCellValue(sheet, cell, h)
	}
	for i, q := range items {
		row := i + 2
		options := make([]string, 0, len(q.Options))
		for _, o := range q.Options {
			options = append(options, o.Text)
		}
		links := ""
		if len(q.RelatedLinks) > 0 {
			links = jsonCell(q.RelatedLinks)
		}
		tags := ""
		if len(q.Tags) > 0 {
			tags = jsonCell(q.Tags)
		}
		optionCell := ""
		if len(options) > 0 {
			optionCell = jsonCell(options)
		}
		tolerance := ""
		if q.AnswerTolerance != nil {
			tolerance = strconv.FormatFloat(*q.AnswerTolerance, 'f', -1, 64)
		}
		values := []any{
			q.ID,
			string(q.Type),
			q.Difficulty,
			q.School,
			q.Grade,
			q.SchoolLevel,
			q.Textbook,
			q.Chapter,
			q.SubTopic,
			q.Content,
			q.ContentImageURL,
			optionCell,
			q.CorrectAnswer,
			tolerance,
			q.Explanation,
			links,
			tags,
			q.Source,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = x.SetCellValue(sheet, cell, v)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(excelHeaders))
	_ = x.SetColWidth(sheet, "A", lastCol, 20)

	var buf bytes.Buffer
	if err := x.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportExcel reads the first sheet. Rows whose id matches a stored question
// overwrite it, keeping stored values for carried columns the sheet does not
// have; other valid rows are added. Invalid rows are reported and skipped.
func (s *Service) ImportExcel(ctx context.Context, actorID string, r io.Reader) (*ImportReport, error) {
	x, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = x.Close() }()

	sheets := x.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel sheet is empty")
	}
	rows, err := x.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows found")
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"type", "difficulty", "content"} {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	batch := make([]Question, 0, len(rows)-1)
	seen := map[string]int{}
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if isBlankRow(row) {
			continue
		}
		report.TotalRows++

		q, err := questionFromRow(get)
		if err == nil {
			if prev, dup := seen[q.ID]; dup {
				err = fmt.Errorf("duplicate id, first seen on row %d", prev)
			}
		}
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, ID: get("id"), Error: err.Error()})
			continue
		}
		seen[q.ID] = rowNo
		batch = append(batch, q)
	}

	missing := map[string]bool{}
	for col := range carriedColumns {
		if _, ok := header[col]; !ok {
			missing[col] = true
		}
	}
	if len(batch) > 0 {
		if err := s.upsertMany(ctx, batch, strings.TrimSpace(actorID), missing); err != nil {
			return nil, err
		}
	}
	report.SuccessRows = len(batch)
	return report, nil
}

func questionFromRow(get func(string) string) (Question, error) {
	difficulty, err := strconv.Atoi(get("difficulty"))
	if err != nil {
		return Question{}, fmt.Errorf("%w: difficulty must be a number", ErrInvalidInput)
	}
	q := Question{
		ID:              get("id"),
		Type:            Type(get("type")),
		Difficulty:      difficulty,
		School:          get("school"),
		Grade:           get("grade"),
		SchoolLevel:     get("school_level"),
		Textbook:        get("textbook"),
		Chapter:         get("chapter"),
		SubTopic:        get("sub_topic"),
		Content:         get("content"),
		ContentImageURL: get("content_image_url"),
		CorrectAnswer:   get("correct_answer"),
		Explanation:     get("explanation"),
		Source:          get("source"),
	}
	options, err := listCell(get("options"), legacyOptionSeparator)
	if err != nil {
		return Question{}, fmt.Errorf("%w: options: %v", ErrInvalidInput, err)
	}
	for _, text := range options {
		if strings.TrimSpace(text) == "" {
			continue
		}
		q.Options = append(q.Options, Option{Text: text})
	}
	if raw := get("related_links"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.RelatedLinks); err != nil {
			return Question{}, fmt.Errorf("%w: related_links must be a JSON array", ErrInvalidInput)
		}
	}
	if raw := get("answer_tolerance"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Question{}, fmt.Errorf("%w: answer_tolerance must be a number", ErrInvalidInput)
		}
		q.AnswerTolerance = &v
	}
	if q.Tags, err = listCell(get("tags"), legacyTagSeparator); err != nil {
		return Question{}, fmt.Errorf("%w: tags: %v", ErrInvalidInput, err)
	}

	q = Normalize(q)
	if err := Validate(q); err != nil {
		return Question{}, err
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return q, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func jsonCell(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// listCell reads a JSON string array, or falls back to splitting on sep for
// cells typed by hand.
func listCell(raw, sep string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, errors.New("malformed JSON array")
		}
		return out, nil
	}
	return strings.Split(raw, sep), nil
}
