package services

import "context"

// ExtensionDescription is the minimal manifest shape the host needs to
// activate an extension in the out-of-process host.
type ExtensionDescription struct {
	ID                string
	Name              string
	Main              string
	ActivationEvents  []string
}

// ExtHostExtensionServiceShape drives the extension host's activation
// lifecycle from the host process.
type ExtHostExtensionServiceShape interface {
	ActivateByEvent(ctx context.Context, event string) error
	ActivateByID(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	ResolveAuthority(ctx context.Context, authority string) (string, error)
}
