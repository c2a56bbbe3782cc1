package actions

import (
	"context"

	"github.com/rendis/stepflow/pkg/schema"
)

// DocumentStore is the project-rooted file access used by the fs.* actions.
// Paths are relative to the project root and may not escape it.
type DocumentStore interface {
	Read(path string) (string, error)
	Write(path, content string, appendMode bool) (int, error)
	List(dir, pattern string) ([]string, error)
	Exists(path string) (bool, error)
}

// FSActions returns the project document actions.
func FSActions(docs DocumentStore) []Action {
	return []Action{
		&fsReadAction{docs: docs},
		&fsWriteAction{docs: docs},
		&fsListAction{docs: docs},
		&fsExistsAction{docs: docs},
	}
}

func requirePath(name string, input map[string]any) error {
	if stringParam(input, "path", "") == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s requires 'path' string parameter", name)
	}
	return nil
}

// --- fs.read ---

type fsReadAction struct{ docs DocumentStore }

func (a *fsReadAction) Name() string { return "fs.read" }

func (a *fsReadAction) Schema() ActionSchema {
	return ActionSchema{Description: "Read a project document as text"}
}

func (a *fsReadAction) Validate(input map[string]any) error { return requirePath(a.Name(), input) }

func (a *fsReadAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	path := stringParam(input.Params, "path", "")
	content, err := a.docs.Read(path)
	if err != nil {
		return nil, err
	}
	return output(map[string]any{"path": path, "content": content}), nil
}

// --- fs.write ---

type fsWriteAction struct{ docs DocumentStore }

func (a *fsWriteAction) Name() string { return "fs.write" }

func (a *fsWriteAction) Schema() ActionSchema {
	return ActionSchema{Description: "Write (or append to) a project document, creating parent directories"}
}

func (a *fsWriteAction) Validate(input map[string]any) error {
	if err := requirePath(a.Name(), input); err != nil {
		return err
	}
	if _, ok := input["content"].(string); !ok {
		return schema.NewError(schema.ErrCodeValidation, "fs.write requires 'content' string parameter")
	}
	return nil
}

func (a *fsWriteAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	path := stringParam(input.Params, "path", "")
	n, err := a.docs.Write(path, stringParam(input.Params, "content", ""), boolParam(input.Params, "append", false))
	if err != nil {
		return nil, err
	}
	return output(map[string]any{"path": path, "bytes_written": n}), nil
}

// --- fs.list ---

type fsListAction struct{ docs DocumentStore }

func (a *fsListAction) Name() string { return "fs.list" }

func (a *fsListAction) Schema() ActionSchema {
	return ActionSchema{Description: "List project documents in 'path' (default root) matching an optional glob 'pattern', at most 'limit' entries"}
}

func (a *fsListAction) Validate(_ map[string]any) error { return nil }

func (a *fsListAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	entries, err := a.docs.List(stringParam(input.Params, "path", "."), stringParam(input.Params, "pattern", ""))
	if err != nil {
		return nil, err
	}
	if limit := intParam(input.Params, "limit", 0); limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	list := make([]any, len(entries))
	for i, e := range entries {
		list[i] = e
	}
	return output(map[string]any{"entries": list, "count": len(list)}), nil
}

// --- fs.exists ---

type fsExistsAction struct{ docs DocumentStore }

func (a *fsExistsAction) Name() string { return "fs.exists" }

func (a *fsExistsAction) Schema() ActionSchema {
	return ActionSchema{Description: "Report whether a project document exists"}
}

func (a *fsExistsAction) Validate(input map[string]any) error { return requirePath(a.Name(), input) }

func (a *fsExistsAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	path := stringParam(input.Params, "path", "")
	ok, err := a.docs.Exists(path)
	if err != nil {
		return nil, err
	}
	return output(map[string]any{"path": path, "exists": ok}), nil
}
