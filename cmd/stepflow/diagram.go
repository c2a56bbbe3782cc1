package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

func cmdDiagram(ctx context.Context, cfg Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("diagram", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "ascii", "ascii, mermaid, svg or png")
	executionID := fs.String("execution", "", "overlay the progress of this execution")
	output := fs.String("o", "", "write to file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 || (fs.NArg() == 0 && *executionID == "") {
		return errors.New("usage: stepflow diagram [flags] <workflow-id>")
	}

	a, err := newApp(ctx, cfg, newLogger(cfg, stderr))
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	workflowID := fs.Arg(0)
	var rec *schema.ExecutionRecord
	var traces map[string]*store.StepTrace
	if *executionID != "" {
		if rec, err = a.engine.GetExecution(ctx, *executionID); err != nil {
			return err
		}
		if workflowID == "" {
			workflowID = rec.WorkflowID
		}
		if traces, err = a.journal.ReplayEvents(ctx, rec.ID); err != nil {
			return err
		}
	}

	def, err := a.loader.Workflow(ctx, workflowID)
	if err != nil {
		return err
	}
	model, err := diagram.Build(def, rec, traces)
	if err != nil {
		return err
	}

	var out []byte
	switch *format {
	case "ascii":
		out = []byte(diagram.RenderASCII(model))
	case "mermaid":
		out = []byte(diagram.RenderMermaid(model))
	case diagram.FormatSVG, diagram.FormatPNG:
		if out, err = diagram.RenderImage(ctx, model, *format); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", *format)
	}

	if *output != "" {
		return os.WriteFile(*output, out, 0o644)
	}
	_, err = stdout.Write(out)
	return err
}
