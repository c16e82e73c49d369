// Package llm suggests essay marks using an OpenAI-compatible chat API.
// Suggestions are advisory; only staff grading changes stored marks.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/cbtportal/internal/llm/prompts"
	"github.com/pavelanni/cbtportal/internal/model"
)

// Suggestion is the model's proposed mark for one essay answer.
type Suggestion struct {
	AnswerID   string  `json:"answer_id"`
	QuestionID string  `json:"question_id"`
	Marks      float64 `json:"marks"`
	MaxMarks   int     `json:"max_marks"`
	Feedback   string  `json:"feedback"`
}

type suggestionResponse struct {
	Marks    float64 `json:"marks"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client using the given prompt variant.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(prompts.FS); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}, nil
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// SuggestMarks asks the model to mark one essay answer. The returned marks
// are clamped to 0..question.Marks and rounded to the nearest half mark.
func (c *Client) SuggestMarks(ctx context.Context, examTitle string, question model.Question, answer model.Answer) (*Suggestion, error) {
	if question.Type != model.Essay {
		return nil, fmt.Errorf("question %s is not an essay", question.ID)
	}
	prompt, err := prompts.BuildEssayPrompt(c.variant, examTitle, question, answer.Text)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "answer_id", answer.ID, "raw", raw)

	var out suggestionResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	return &Suggestion{
		AnswerID:   answer.ID,
		QuestionID: question.ID,
		Marks:      clampMarks(out.Marks, question.Marks),
		MaxMarks:   question.Marks,
		Feedback:   out.Feedback,
	}, nil
}

// SuggestForSubmission returns a suggestion for every essay answer of the
// submission. A failure on one answer is logged and that answer skipped.
func (c *Client) SuggestForSubmission(ctx context.Context, detail *model.SubmissionDetail) ([]Suggestion, error) {
	var out []Suggestion
	for _, av := range detail.Answers {
		if av.Question.Type != model.Essay {
			continue
		}
		s, err := c.SuggestMarks(ctx, detail.Exam.Title, av.Question, av.Answer)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			slog.Warn("essay suggestion failed", "answer_id", av.Answer.ID, "error", err)
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func clampMarks(marks float64, maxMarks int) float64 {
	if math.IsNaN(marks) || marks < 0 {
		return 0
	}
	marks = math.Round(marks*2) / 2
	return math.Min(marks, float64(maxMarks))
}
