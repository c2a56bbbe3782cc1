package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/rendis/stepflow/internal/content"
	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/pkg/schema"
)

// varsFlag collects repeated -var key=value pairs.
type varsFlag map[string]any

func (v varsFlag) String() string { return fmt.Sprint(map[string]any(v)) }

func (v varsFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	v[key] = value
	return nil
}

// listFlag collects repeated string flags.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(s string) error {
	*l = append(*l, s)
	return nil
}

func cmdRun(ctx context.Context, cfg Config, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stdout)
	project := fs.String("project", "", "project ID the execution is scoped to")
	user := fs.String("user", "", "user ID recorded in the execution context")
	mode := fs.String("mode", engine.ModeInteractive, "interactive or autonomous")
	vars := varsFlag{}
	fs.Var(vars, "var", "initial variable as key=value (repeatable)")
	var docs listFlag
	fs.Var(&docs, "doc", "project document exposed to the workflow (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: stepflow run [flags] <workflow-id>")
	}

	logger := newLogger(cfg, stderr)
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	ec := engine.ExecutionContext{ProjectID: *project, UserID: *user, Mode: *mode}
	if len(docs) > 0 {
		loader, err := content.NewDocumentLoader(cfg.ProjectRoot)
		if err != nil {
			return err
		}
		if ec.Documents, err = loader.Load(docs...); err != nil {
			return err
		}
	}

	res, err := a.engine.Start(ctx, fs.Arg(0), map[string]any(vars), ec)
	if err != nil {
		return err
	}
	sess := newSession(a.engine, stdin, stdout, ec)
	final, err := sess.drive(ctx, res)
	if err != nil {
		return err
	}
	if final.Status != schema.StatusCompleted {
		return fmt.Errorf("execution %s ended %s", final.ExecutionID, final.Status)
	}
	return nil
}

// session answers engine prompts from a terminal until the execution stops needing input.
type session struct {
	engine engine.Engine
	in     *bufio.Reader
	out    io.Writer
	ec     engine.ExecutionContext
}

func newSession(eng engine.Engine, in io.Reader, out io.Writer, ec engine.ExecutionContext) *session {
	return &session{engine: eng, in: bufio.NewReader(in), out: out, ec: ec}
}

func (s *session) drive(ctx context.Context, res *schema.Result) (*schema.Result, error) {
	for {
		s.report(res)
		if res.Status != schema.StatusAwaitingInput {
			return res, nil
		}

		rec, err := s.engine.GetExecution(ctx, res.ExecutionID)
		if err != nil {
			return nil, err
		}
		var input map[string]any
		if rec.AwaitingInput != nil && rec.AwaitingInput.Kind == schema.InputKindArtifact {
			input, err = s.review(res)
		} else {
			input, err = s.ask(res)
		}
		if err != nil {
			return nil, err
		}

		next, err := s.engine.ProvideInput(ctx, res.ExecutionID, input, s.ec)
		if schema.IsCode(err, schema.ErrCodeValidation) {
			color.New(color.FgRed).Fprintf(s.out, "  %v\n", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		res = next
	}
}

func (s *session) report(res *schema.Result) {
	c := color.New(color.FgCyan)
	switch res.Status {
	case schema.StatusCompleted:
		c = color.New(color.FgGreen, color.Bold)
	case schema.StatusError, schema.StatusCancelled:
		c = color.New(color.FgRed, color.Bold)
	case schema.StatusHalted, schema.StatusPaused:
		c = color.New(color.FgYellow)
	}
	c.Fprintf(s.out, "[%s] %s (%d%%)\n", res.Status, res.Message, res.Progress.Percentage)
}

func (s *session) ask(res *schema.Result) (map[string]any, error) {
	if res.Prompt != "" {
		color.New(color.FgMagenta).Fprintln(s.out, res.Prompt)
	}
	input := make(map[string]any, len(res.InputRequired))
	for _, name := range res.InputRequired {
		fmt.Fprintf(s.out, "  %s: ", name)
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}
		input[name] = line
	}
	return input, nil
}

func (s *session) review(res *schema.Result) (map[string]any, error) {
	if n := len(res.Artifacts); n > 0 {
		latest := res.Artifacts[n-1]
		color.New(color.FgBlue, color.Bold).Fprintf(s.out, "--- %s ---\n", latest.Section)
		fmt.Fprintln(s.out, latest.Content)
		color.New(color.FgBlue, color.Bold).Fprintln(s.out, "---")
	}
	color.New(color.FgMagenta).Fprint(s.out, res.Prompt+" > ")
	answer, err := s.readLine()
	if err != nil {
		return nil, err
	}

	input := map[string]any{schema.InputKeyAction: answer}
	if schema.ParseInputAction(answer) == schema.InputEdit {
		fmt.Fprintln(s.out, "Enter the replacement content, finish with a line containing a single '.':")
		var b strings.Builder
		for {
			line, err := s.readLine()
			if err != nil {
				return nil, err
			}
			if line == "." {
				break
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		input[schema.InputKeyContent] = strings.TrimSuffix(b.String(), "\n")
	}
	return input, nil
}

func (s *session) readLine() (string, error) {
	line, err := s.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", errors.New("input closed while the workflow was waiting")
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
