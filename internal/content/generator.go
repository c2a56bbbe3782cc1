package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/pkg/schema"
)

// TemplateReader supplies template_file contents.
type TemplateReader interface {
	Read(path string) (string, error)
}

// TemplateGenerator renders produces directives from their inline template or template file,
// resolving ${{ }} references against the execution. It implements engine.ContentGenerator.
type TemplateGenerator struct {
	templates TemplateReader
	interp    *expressions.Interpolator
	logger    *slog.Logger
}

// NewTemplateGenerator creates a generator. templates may be nil when no workflow uses
// template_file.
func NewTemplateGenerator(templates TemplateReader, logger *slog.Logger) *TemplateGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateGenerator{
		templates: templates,
		interp:    expressions.NewInterpolator(),
		logger:    logger,
	}
}

// Generate implements engine.ContentGenerator. With neither template nor template_file the
// artifact is a heading naming the section.
func (g *TemplateGenerator) Generate(ctx context.Context, p schema.ProducesDirective, rec *schema.ExecutionRecord, ec engine.ExecutionContext) (string, error) {
	tmpl, err := g.template(p)
	if err != nil {
		return "", err
	}

	out, err := g.interp.Resolve(tmpl, &expressions.Scope{
		Vars: rec.Variables,
		Execution: map[string]any{
			"id":          rec.ID,
			"workflow_id": rec.WorkflowID,
			"project_id":  rec.ProjectID,
			"step_index":  rec.CurrentStepIndex,
			"step_id":     logging.StepID(ctx),
		},
		Context: ec.ContextValues(),
	})
	if err != nil {
		return "", err
	}

	logging.LogWith(ctx, g.logger).Debug("artifact rendered",
		slog.String("section", p.Section),
		slog.Int("bytes", len(out)),
	)
	return out, nil
}

func (g *TemplateGenerator) template(p schema.ProducesDirective) (string, error) {
	switch {
	case p.Template != "":
		return p.Template, nil
	case p.TemplateFile != "":
		if g.templates == nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation,
				"section %q uses template_file %q but no template source is configured", p.Section, p.TemplateFile)
		}
		return g.templates.Read(p.TemplateFile)
	default:
		return fmt.Sprintf("## %s\n", title(p.Section)), nil
	}
}

// title turns a section key such as "user_stories" into "User Stories".
func title(section string) string {
	words := strings.FieldsFunc(section, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
