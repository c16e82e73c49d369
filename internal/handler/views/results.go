// Package views renders the server-side HTML pages.
package views

import (
	"context"

	"github.com/dustin/go-humanize"

	appI18n "github.com/pavelanni/cbtportal/internal/i18n"
	"github.com/pavelanni/cbtportal/internal/model"
)

const timeLayout = "2006-01-02 15:04"

var resultColumns = []string{"ColName", "ColAdmission", "ColClass", "ColScore", "ColPercentage", "ColResult", "ColSubmitted"}

func resultsTitle(ctx context.Context, export model.ResultsExport) string {
	return appI18n.Td(ctx, "ResultsTitle", map[string]any{"Title": export.Title})
}

func passMarkLine(ctx context.Context, export model.ResultsExport) string {
	return appI18n.Td(ctx, "PassMarkLine", map[string]any{
		"Passing":  export.PassingMarks,
		"Total":    export.TotalMarks,
		"Duration": export.Duration,
	})
}

func generatedAt(ctx context.Context, export model.ResultsExport) string {
	return appI18n.Td(ctx, "GeneratedAt", map[string]any{"When": export.GeneratedAt.Format(timeLayout)})
}

func summaryLine(ctx context.Context, s model.ResultsSummary) string {
	return appI18n.Tp(ctx, "SubmissionCount", s.TotalSubmissions) + ": " +
		appI18n.Td(ctx, "SummaryLine", map[string]any{
			"Passed":    humanize.Comma(int64(s.Passed)),
			"Failed":    humanize.Comma(int64(s.Failed)),
			"NotGraded": humanize.Comma(int64(s.NotGraded)),
		})
}

func resultClass(r model.StudentResult) string {
	switch {
	case r.Passed == nil:
		return "pending"
	case *r.Passed:
		return "passed"
	}
	return "failed"
}

func resultMsgID(r model.StudentResult) string {
	switch {
	case r.Passed == nil:
		return "ResultNotGraded"
	case *r.Passed:
		return "ResultPassed"
	}
	return "ResultFailed"
}

func score(total *float64, maxMarks int) string {
	if total == nil {
		return "-"
	}
	return humanize.FtoaWithDigits(*total, 2) + " / " + humanize.Comma(int64(maxMarks))
}

func percentage(p *float64) string {
	if p == nil {
		return "-"
	}
	return humanize.FtoaWithDigits(*p, 2) + "%"
}

func submitted(r model.StudentResult) string {
	if r.SubmittedAt == nil {
		return ""
	}
	return r.SubmittedAt.Format(timeLayout)
}
