package schema

// InputAction is the caller's answer to an artifact review prompt.
type InputAction string

const (
	InputContinue   InputAction = "continue"
	InputRegenerate InputAction = "regenerate"
	InputEdit       InputAction = "edit"
)

// Reserved input keys for artifact review prompts.
const (
	InputKeyAction  = "action"
	InputKeyContent = "content"
)

// ParseInputAction maps the short and long forms of a review answer to an InputAction.
// Anything unrecognised continues.
func ParseInputAction(v any) InputAction {
	s, _ := v.(string)
	switch s {
	case "r", "regenerate":
		return InputRegenerate
	case "e", "edit":
		return InputEdit
	default:
		return InputContinue
	}
}

// ArtifactPrompt is the standard continuation prompt shown after an artifact is generated.
func ArtifactPrompt(section string) string {
	return "Generated " + section + ". [c] Continue, [r] Regenerate, [e] Edit"
}
