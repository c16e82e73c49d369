package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/cbtportal/internal/model"
)

// FS holds the built-in prompt templates.
//
//go:embed templates/*.txt
var FS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents an essay marking prompt variant.
type PromptVariant string

const (
	// PromptStrict only credits explicit, correct points.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default marking variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient credits any relevant idea.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

const maxAnswerRunes = 10000

var (
	loadOnce       sync.Once
	loadErr        error
	essayTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// EssayData holds template data for essay marking prompts.
type EssayData struct {
	ExamTitle    string
	QuestionText string
	MaxMarks     int
	Answer       string
}

// Load parses the essay templates from fsys. Only the first call has any
// effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		essayTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			file := "templates/essay_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(string(v)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			essayTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildEssayPrompt renders the marking prompt for one essay answer.
func BuildEssayPrompt(variant PromptVariant, examTitle string, question model.Question, answer string) (string, error) {
	if essayTemplates == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := essayTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := EssayData{
		ExamTitle:    examTitle,
		QuestionText: question.Text,
		MaxMarks:     question.Marks,
		Answer:       sanitizeAnswer(answer),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
