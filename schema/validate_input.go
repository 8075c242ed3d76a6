package schema

import (
	"github.com/tzgateway/gateway/tzerr"
)

// InputValidator is the subset of types.Function a caller needs to validate
// an input without importing the types package (avoiding an import cycle,
// since types.CompiledSchemaRef aliases schema.Compiled).
type InputValidator struct {
	SystemSchema    *Compiled
	UserSchema      *Compiled
	AssistantSchema *Compiled
}

// ValidateSystem checks system content against SystemSchema when present;
// otherwise only a plain string is accepted (§4.A).
func (v InputValidator) ValidateSystem(system any) error {
	if system == nil {
		return nil
	}
	if v.SystemSchema != nil {
		return v.SystemSchema.Validate(system)
	}
	if _, ok := system.(string); !ok {
		return tzerr.New(tzerr.KindInvalidMessage, "system content must be a string when no system schema is configured", nil, nil)
	}
	return nil
}

// ValidateMessageContent checks one message's structured (non-string)
// content against the per-role schema, when defined (§4.A). Plain string
// content never needs schema validation.
func (v InputValidator) ValidateMessageContent(role string, content any) error {
	var s *Compiled
	switch role {
	case "user":
		s = v.UserSchema
	case "assistant":
		s = v.AssistantSchema
	}
	if s != nil {
		return s.Validate(content)
	}
	if _, ok := content.(string); !ok {
		return tzerr.New(tzerr.KindInvalidMessage, "message content must be a string when no schema is configured for role "+role, nil, nil)
	}
	return nil
}
