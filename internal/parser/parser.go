// Package parser extracts multiple-choice questions from plain document text.
//
// Two layouts are recognized, decided line by line:
//
//	1. Question text            (1) Question text (a) One (b) Two* (c) Three
//	A. One
//	B. Two*
//
// The option carrying an asterisk is the correct answer.
package parser

import (
	"regexp"
	"strings"

	"github.com/pavelanni/cbtportal/internal/model"
)

var (
	singleLineStart = regexp.MustCompile(`^\((\d+)\)\s+(.+)`)
	multiLineStart  = regexp.MustCompile(`^(\d+)[.)]\s+(.+)`)
	optionLine      = regexp.MustCompile(`(?i)^[A-D][.)]\s+`)
	inlineMarker    = regexp.MustCompile(`(?i)\([A-D]\)`)
)

type draft struct {
	text    string
	options []string
	correct int
}

func newDraft(text string) *draft {
	return &draft{text: text, correct: -1}
}

// add appends an option. The last asterisked option wins.
func (d *draft) add(raw string) {
	marked := strings.Contains(raw, "*")
	text := strings.TrimSpace(strings.ReplaceAll(raw, "*", ""))
	if text == "" {
		return
	}
	if marked {
		d.correct = len(d.options)
	}
	d.options = append(d.options, text)
}

func (d *draft) record(marks int) (model.QuestionRecord, bool) {
	if d.text == "" || len(d.options) < 2 || d.correct < 0 {
		return model.QuestionRecord{}, false
	}
	return model.QuestionRecord{
		Type:          model.MultipleChoice,
		Question:      d.text,
		Options:       d.options,
		CorrectAnswer: d.options[d.correct],
		Marks:         marks,
	}, true
}

// Parse converts document text into question records in input order.
// Questions without a marked answer or with fewer than two options are dropped.
func Parse(text string, marksPerQuestion int) []model.QuestionRecord {
	var (
		out []model.QuestionRecord
		cur *draft
	)
	flush := func() {
		if cur == nil {
			return
		}
		if rec, ok := cur.record(marksPerQuestion); ok {
			out = append(out, rec)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := singleLineStart.FindStringSubmatch(line); m != nil {
			flush()
			cur = parseInline(m[2])
			// A single-line question is complete; later option lines do not extend it.
			flush()
			continue
		}

		if m := multiLineStart.FindStringSubmatch(line); m != nil {
			flush()
			cur = newDraft(strings.TrimSpace(strings.TrimRight(m[2], "*")))
			continue
		}

		if loc := optionLine.FindStringIndex(line); loc != nil && cur != nil {
			cur.add(line[loc[1]:])
		}
	}
	flush()

	return out
}

// parseInline splits "Question (a) x (b) y*" into question text and options.
func parseInline(rest string) *draft {
	markers := inlineMarker.FindAllStringIndex(rest, -1)
	if len(markers) == 0 {
		return newDraft(strings.TrimSpace(rest))
	}

	d := newDraft(strings.TrimSpace(rest[:markers[0][0]]))
	for i, m := range markers {
		end := len(rest)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		d.add(rest[m[1]:end])
	}
	return d
}
