package diagram

import (
	"strings"

	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/pkg/schema"
)

// Build constructs a DiagramModel from a workflow definition. rec and traces are optional;
// when given, each step node carries the state of that execution.
func Build(def *schema.WorkflowDefinition, rec *schema.ExecutionRecord, traces map[string]*store.StepTrace) (*DiagramModel, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: workflow definition is nil")
	}

	model := &DiagramModel{Title: titleFromDef(def)}
	model.Nodes = append(model.Nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	model.Levels = append(model.Levels, []string{StartID})

	hasHalt := false
	for i := range def.Steps {
		step := &def.Steps[i]
		node := &Node{
			ID:    step.ID,
			Label: nodeLabel(step),
			Kind:  stepKind(step),
			Index: i + 1,
		}
		node.Status = overlay(step.ID, i+1, rec, traces)
		model.Nodes = append(model.Nodes, node)
		model.Levels = append(model.Levels, []string{step.ID})
		if step.Halt != nil {
			hasHalt = true
		}
	}

	model.Nodes = append(model.Nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})
	last := []string{EndID}
	if hasHalt {
		model.Nodes = append(model.Nodes, &Node{ID: HaltID, Label: "Halt", Kind: NodeKindHalt})
		last = append(last, HaltID)
	}
	model.Levels = append(model.Levels, last)

	edges, err := buildEdges(def)
	if err != nil {
		return nil, err
	}
	model.Edges = edges
	return model, nil
}

func stepKind(step *schema.StepDefinition) NodeKind {
	switch {
	case step.Ask != nil:
		return NodeKindAsk
	case step.Produces != nil:
		return NodeKindArtifact
	default:
		return NodeKindStep
	}
}

// nodeLabel puts the step title first, then its guard and actions.
func nodeLabel(step *schema.StepDefinition) string {
	lines := []string{step.Title()}
	if step.Condition != "" {
		lines = append(lines, "if "+step.Condition)
	}
	if len(step.Actions) > 0 {
		names := make([]string, len(step.Actions))
		for i, a := range step.Actions {
			names[i] = a.Action
		}
		lines = append(lines, strings.Join(names, ", "))
	}
	if step.Produces != nil {
		lines = append(lines, "produces "+step.Produces.Section)
	}
	return strings.Join(lines, "\n")
}

func overlay(stepID string, index int, rec *schema.ExecutionRecord, traces map[string]*store.StepTrace) *StatusOverlay {
	trace := traces[stepID]
	if rec == nil && trace == nil {
		return nil
	}

	ov := &StatusOverlay{}
	if trace != nil {
		ov.Status = trace.Status
		ov.DurationMs = trace.DurationMs
		ov.Attempts = trace.Attempts
		ov.Error = trace.LastError
	}
	if rec == nil {
		return ov
	}

	switch {
	case rec.IsStepCompleted(stepID):
		ov.Status = StatusCompleted
	case index == rec.CurrentStepIndex:
		ov.Status = currentStatus(rec.Status)
		if last := rec.LastError(); last != nil && last.StepID == stepID && ov.Error == "" {
			ov.Error = last.Message
		}
	default:
		ov.Status = StatusPending
	}
	return ov
}

func currentStatus(s schema.ExecutionStatus) string {
	switch s {
	case schema.StatusAwaitingInput:
		return StatusAwaiting
	case schema.StatusPaused:
		return StatusPaused
	case schema.StatusError:
		return StatusFailed
	case schema.StatusHalted:
		return StatusHalted
	case schema.StatusCancelled:
		return StatusCancelled
	case schema.StatusInProgress:
		return StatusRunning
	default:
		return StatusPending
	}
}

// buildEdges links steps in declared order. Unconditional goto and halt directives replace
// the fall-through edge.
func buildEdges(def *schema.WorkflowDefinition) ([]Edge, error) {
	if len(def.Steps) == 0 {
		return []Edge{{From: StartID, To: EndID, Kind: EdgeNext}}, nil
	}

	edges := []Edge{{From: StartID, To: def.Steps[0].ID, Kind: EdgeNext}}
	for i := range def.Steps {
		step := &def.Steps[i]
		fallsThrough := true

		if h := step.Halt; h != nil {
			label := "halt"
			if h.When != "" {
				label = "when " + h.When
			} else {
				fallsThrough = false
			}
			edges = append(edges, Edge{From: step.ID, To: HaltID, Label: label, Kind: EdgeHalt})
		}

		if g := step.Goto; g != nil {
			if g.Step < 1 || g.Step > len(def.Steps) {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"diagram: goto target %d out of range 1..%d", g.Step, len(def.Steps)).WithStep(step.ID)
			}
			label := "goto"
			if g.When != "" {
				label = "when " + g.When
			} else {
				fallsThrough = false
			}
			edges = append(edges, Edge{From: step.ID, To: def.Steps[g.Step-1].ID, Label: label, Kind: EdgeGoto})
		}

		if !fallsThrough {
			continue
		}
		next := EndID
		if i+1 < len(def.Steps) {
			next = def.Steps[i+1].ID
		}
		edges = append(edges, Edge{From: step.ID, To: next, Kind: EdgeNext})
	}
	return edges, nil
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	switch {
	case def.Name != "":
		return def.Name
	case def.ID != "":
		return def.ID
	default:
		return "Workflow"
	}
}
