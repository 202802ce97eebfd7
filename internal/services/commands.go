package services

import "context"

// MainThreadCommandsShape lets the extension host register commands the
// host UI can later invoke, and report back when it does so itself.
type MainThreadCommandsShape interface {
	RegisterCommand(ctx context.Context, id string) error
	UnregisterCommand(ctx context.Context, id string) error
	ExecuteCommand(ctx context.Context, id string, args []byte) (any, error)
}

// ExtHostCommandsShape dispatches a command execution into the
// extension's registered handler.
type ExtHostCommandsShape interface {
	ExecuteContributedCommand(ctx context.Context, id string, args []byte) (any, error)
}
