package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/rendis/stepflow/pkg/schema"
)

var errInvalidDefinitions = errors.New("definitions have errors")

func cmdValidate(cfg Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stdout)
	dir := fs.String("dir", cfg.DefinitionsDir, "definitions directory (workflows/ and agents/)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.DefinitionsDir = *dir

	_, _, loader, result, err := newDefinitions(cfg, newLogger(cfg, io.Discard))
	if result != nil {
		printIssues(stdout, result)
	}
	if err != nil && !schema.IsCode(err, schema.ErrCodeValidation) {
		return err
	}
	if result == nil || !result.Valid() {
		return errInvalidDefinitions
	}

	color.New(color.FgGreen).Fprintf(stdout, "%d workflows, %d agents OK\n",
		len(loader.Workflows()), len(loader.Agents()))
	return nil
}

func printIssues(w io.Writer, result *schema.ValidationResult) {
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	for _, issue := range result.Errors {
		red.Fprint(w, "error   ")
		fmt.Fprintf(w, "%s: %s (%s)\n", issue.Path, issue.Message, issue.Code)
	}
	for _, issue := range result.Warnings {
		yellow.Fprint(w, "warning ")
		fmt.Fprintf(w, "%s: %s (%s)\n", issue.Path, issue.Message, issue.Code)
	}
}
