package mcpservice

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned by the tools registry when the requested name
// is not registered. No handler runs in that case.
var ErrUnknownTool = errors.New("unknown tool")

// ErrUnknownResource is returned by the resources registry when no provider
// matches the requested URI.
var ErrUnknownResource = errors.New("unknown resource")

// ArgumentError reports tool arguments that failed schema validation. Field
// names the offending argument when it can be determined.
type ArgumentError struct {
	Tool   string
	Field  string
	Detail string
}

func (e *ArgumentError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid arguments for tool %q: field %q: %s", e.Tool, e.Field, e.Detail)
	}
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, e.Detail)
}
