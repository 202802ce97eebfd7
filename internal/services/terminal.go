package services

import "context"

type MainThreadTerminalShape interface {
	CreateTerminal(ctx context.Context, name string, shellPath string, shellArgs []string) (string, error)
	SendText(ctx context.Context, terminalID, text string, addNewLine bool) error
	Dispose(ctx context.Context, terminalID string) error
}

type ExtHostTerminalShape interface {
	AcceptData(ctx context.Context, terminalID string, data []byte) error
	AcceptExitCode(ctx context.Context, terminalID string, code int) error
}
