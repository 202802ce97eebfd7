package services

import "context"

// ExtHostLanguageModelToolsShape invokes a tool contributed by an
// extension, passing JSON-encoded input and receiving a JSON-encoded
// result.
type ExtHostLanguageModelToolsShape interface {
	InvokeTool(ctx context.Context, toolID string, input []byte) ([]byte, error)
}
