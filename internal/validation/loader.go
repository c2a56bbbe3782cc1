package validation

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Definition directories below the loader root.
const (
	WorkflowsDir = "workflows"
	AgentsDir    = "agents"
)

// Loader reads YAML workflow and agent definitions from a directory tree, validates them
// and serves them by ID. It is safe for concurrent use.
type Loader struct {
	validator *WorkflowValidator
	logger    *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*schema.WorkflowDefinition
	agents    map[string]*schema.AgentDefinition
}

// NewLoader creates an empty Loader.
func NewLoader(validator *WorkflowValidator, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		validator: validator,
		logger:    logger,
		workflows: make(map[string]*schema.WorkflowDefinition),
		agents:    make(map[string]*schema.AgentDefinition),
	}
}

// LoadDir loads root/workflows/*.yaml and root/agents/*.yaml. Either directory may be missing.
// The returned result carries every issue, with paths prefixed by the file name. When any
// definition is invalid nothing is registered and the error is a VALIDATION_ERROR.
func (l *Loader) LoadDir(root string) (*schema.ValidationResult, error) {
	result := &schema.ValidationResult{}
	workflows := make(map[string]*schema.WorkflowDefinition)
	agents := make(map[string]*schema.AgentDefinition)

	wfFiles, err := yamlFiles(filepath.Join(root, WorkflowsDir))
	if err != nil {
		return result, err
	}
	for _, path := range wfFiles {
		def, err := readWorkflowFile(path)
		if err != nil {
			result.AddError(path, schema.IssueSchema, err.Error())
			continue
		}
		if _, dup := workflows[def.ID]; dup {
			result.AddError(path+":id", schema.IssueDuplicateID, fmt.Sprintf("workflow id %q already loaded", def.ID))
			continue
		}
		mergePrefixed(result, path, l.validator.Validate(def))
		workflows[def.ID] = def
	}

	agentFiles, err := yamlFiles(filepath.Join(root, AgentsDir))
	if err != nil {
		return result, err
	}
	exists := func(id string) bool { _, ok := workflows[id]; return ok }
	for _, path := range agentFiles {
		agent, err := readAgentFile(path)
		if err != nil {
			result.AddError(path, schema.IssueSchema, err.Error())
			continue
		}
		if _, dup := agents[agent.ID]; dup {
			result.AddError(path+":id", schema.IssueDuplicateID, fmt.Sprintf("agent id %q already loaded", agent.ID))
			continue
		}
		mergePrefixed(result, path, l.validator.ValidateAgentWith(agent, exists))
		agents[agent.ID] = agent
	}

	for _, w := range result.Warnings {
		l.logger.Warn("definition warning", slog.String("path", w.Path), slog.String("code", w.Code), slog.String("message", w.Message))
	}
	if err := result.ToError(); err != nil {
		return result, err
	}

	l.mu.Lock()
	l.workflows = workflows
	l.agents = agents
	l.mu.Unlock()

	l.logger.Info("definitions loaded",
		slog.String("root", root),
		slog.Int("workflows", len(workflows)),
		slog.Int("agents", len(agents)),
	)
	return result, nil
}

// AddWorkflow validates and registers a single workflow definition.
func (l *Loader) AddWorkflow(def *schema.WorkflowDefinition) error {
	if def != nil {
		assignStepIDs(def)
	}
	if err := l.validator.Validate(def).ToError(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workflows[def.ID] = def
	return nil
}

// Workflow implements engine.DefinitionSource.
func (l *Loader) Workflow(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return def, nil
}

// Agent returns the agent definition with the given ID.
func (l *Loader) Agent(id string) (*schema.AgentDefinition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	agent, ok := l.agents[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent %q not found", id)
	}
	return agent, nil
}

// Workflows returns the loaded workflows sorted by ID.
func (l *Loader) Workflows() []*schema.WorkflowDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*schema.WorkflowDefinition, 0, len(l.workflows))
	for _, def := range l.workflows {
		out = append(out, def)
	}
	slices.SortFunc(out, func(a, b *schema.WorkflowDefinition) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Agents returns the loaded agents sorted by ID.
func (l *Loader) Agents() []*schema.AgentDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*schema.AgentDefinition, 0, len(l.agents))
	for _, a := range l.agents {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *schema.AgentDefinition) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// ParseWorkflow decodes a YAML workflow. Unknown keys are rejected, a missing workflow ID
// falls back to fallbackID and missing step IDs become step-N.
func ParseWorkflow(data []byte, fallbackID string) (*schema.WorkflowDefinition, error) {
	var def schema.WorkflowDefinition
	if err := decodeStrict(data, &def); err != nil {
		return nil, err
	}
	if def.ID == "" {
		def.ID = fallbackID
	}
	if def.Steps == nil {
		def.Steps = []schema.StepDefinition{}
	}
	assignStepIDs(&def)
	return &def, nil
}

// ParseAgent decodes a YAML agent definition.
func ParseAgent(data []byte, fallbackID string) (*schema.AgentDefinition, error) {
	var agent schema.AgentDefinition
	if err := decodeStrict(data, &agent); err != nil {
		return nil, err
	}
	if agent.ID == "" {
		agent.ID = fallbackID
	}
	return &agent, nil
}

func assignStepIDs(def *schema.WorkflowDefinition) {
	for i := range def.Steps {
		if def.Steps[i].ID == "" {
			def.Steps[i].ID = fmt.Sprintf("step-%d", i+1)
		}
	}
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func readWorkflowFile(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseWorkflow(data, baseName(path))
}

func readAgentFile(path string) (*schema.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseAgent(data, baseName(path))
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// yamlFiles lists *.yaml and *.yml files directly under dir in name order.
func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, schema.IOError("read definitions dir", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isYAML(e) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

func isYAML(e fs.DirEntry) bool {
	ext := strings.ToLower(filepath.Ext(e.Name()))
	return ext == ".yaml" || ext == ".yml"
}

func mergePrefixed(dst *schema.ValidationResult, prefix string, src *schema.ValidationResult) {
	for _, e := range src.Errors {
		dst.AddError(prefix+":"+e.Path, e.Code, e.Message)
	}
	for _, w := range src.Warnings {
		dst.AddWarning(prefix+":"+w.Path, w.Code, w.Message)
	}
}
