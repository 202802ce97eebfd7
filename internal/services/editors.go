package services

import "context"

// Selection is a zero-based line/column range within an editor.
type Selection struct {
	StartLine, StartColumn int
	EndLine, EndColumn     int
}

type MainThreadEditorsShape interface {
	AcceptEditorPropertiesChanged(ctx context.Context, editorID string, selections []Selection) error
	TryShowEditor(ctx context.Context, uri string, viewColumn int) (string, error)
	TryApplyEdits(ctx context.Context, editorID string, edits []byte) (bool, error)
}

type ExtHostEditorsShape interface {
	AcceptEditorPropertiesChanged(ctx context.Context, editorID string, selections []Selection) error
	AcceptActiveEditorChanged(ctx context.Context, editorID string) error
}
