package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"coral-lat/internal/apperrors"
	"coral-lat/internal/contextutil"
	"coral-lat/internal/pipeline"
	"coral-lat/internal/service"
)

// OverviewHandler renders a Markdown summary of the build and loaded project as HTML.
type OverviewHandler struct {
	projectService service.ProjectService
	parser         goldmark.Markdown
	template       *template.Template
}

type overviewPageData struct {
	Content template.HTML
}

// NewOverviewHandler creates a new OverviewHandler.
func NewOverviewHandler(projectService service.ProjectService) *OverviewHandler {
	tmpl := template.Must(template.New("overview").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Coral project overview</title>
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
      margin: 0 auto;
      padding: 2rem;
      max-width: 900px;
      line-height: 1.6;
    }
    table { border-collapse: collapse; }
    th, td { border: 1px solid #ccd; padding: 0.3rem 0.8rem; text-align: left; }
  </style>
</head>
<body>
  <article>{{.Content}}</article>
</body>
</html>`))

	return &OverviewHandler{
		projectService: projectService,
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
		template: tmpl,
	}
}

// ServeHTTP handles GET /.
func (h *OverviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	status := h.projectService.BuildStatus(ctx)
	summary, err := h.projectService.Summary(ctx)
	var loaded *service.ProjectSummary
	switch {
	case err == nil:
		loaded = &summary
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		handleServiceError(w, ctx, err, "Failed to summarize project")
		return
	}

	var buf bytes.Buffer
	if err := h.parser.Convert([]byte(overviewMarkdown(status, loaded)), &buf); err != nil {
		logger.ErrorContext(ctx, "failed to render overview", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to render overview")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.template.Execute(w, overviewPageData{Content: template.HTML(buf.String())}); err != nil {
		logger.ErrorContext(ctx, "failed to execute overview template", "error", err)
	}
}

func overviewMarkdown(status pipeline.Status, summary *service.ProjectSummary) string {
	var b strings.Builder
	b.WriteString("# Coral project overview\n\n")

	b.WriteString("## Build\n\n")
	fmt.Fprintf(&b, "- State: **%s**\n", status.State)
	if status.RunID != "" {
		fmt.Fprintf(&b, "- Run: `%s`\n", status.RunID)
		fmt.Fprintf(&b, "- Progress: %d%% of %d images\n", status.Progress, status.Total)
	}
	if status.ProjectPath != "" {
		fmt.Fprintf(&b, "- Output: `%s`\n", status.ProjectPath)
	}
	if status.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", escapeCell(status.Error))
	}

	b.WriteString("\n## Loaded project\n\n")
	if summary == nil {
		b.WriteString("No project loaded.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "- Archive: `%s`\n", summary.ProjectPath)
	fmt.Fprintf(&b, "- Images: %d\n", summary.Images)
	fmt.Fprintf(&b, "- Current image: %d\n\n", summary.CurrentImageID)

	b.WriteString("| Category | Id | Super category | Coral |\n|---|---|---|---|\n")
	for _, c := range summary.Categories {
		fmt.Fprintf(&b, "| %s | %d | %s | %t |\n", escapeCell(c.Name), c.ID, escapeCell(c.SuperCategory), c.IsCoral)
	}

	b.WriteString("\n| Status | Annotations |\n|---|---|\n")
	names := make([]string, 0, len(summary.Statuses))
	for _, s := range summary.Statuses {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "| %s | %d |\n", escapeCell(name), summary.StatusCounts[name])
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
