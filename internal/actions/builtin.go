package actions

import (
	"log/slog"

	"github.com/rendis/stepflow/internal/validation"
)

// BuiltinConfig wires the collaborators of the built-in actions.
type BuiltinConfig struct {
	Validator *validation.JSONSchemaValidator
	Documents DocumentStore // nil skips the fs.* actions
	Logger    *slog.Logger
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	all := make([]Action, 0, 24)

	all = append(all, VarsActions()...)
	all = append(all, ExprActions()...)
	all = append(all, CryptoActions()...)
	all = append(all, FlowActions(cfg.Logger)...)
	if cfg.Validator != nil {
		all = append(all, AssertActions(cfg.Validator)...)
	}
	if cfg.Documents != nil {
		all = append(all, FSActions(cfg.Documents)...)
	}

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
