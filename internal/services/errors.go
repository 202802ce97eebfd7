package services

import "context"

// MainThreadErrorsShape lets the extension host forward an unhandled
// error to the host for display/telemetry.
type MainThreadErrorsShape interface {
	OnUnexpectedError(ctx context.Context, name, message, stack string) error
}
