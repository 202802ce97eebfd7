package services

import "context"

type WebviewOptions struct {
	EnableScripts  bool
	RetainContext  bool
	LocalResources []string
}

type MainThreadWebviewsShape interface {
	CreateWebviewPanel(ctx context.Context, handle, viewType, title string, opts WebviewOptions) error
	SetHTML(ctx context.Context, handle, html string) error
	Reveal(ctx context.Context, handle string, viewColumn int) error
	Dispose(ctx context.Context, handle string) error
	PostMessage(ctx context.Context, handle string, message []byte) (bool, error)
}

type ExtHostWebviewsShape interface {
	OnMessage(ctx context.Context, handle string, message []byte) error
	OnDidDispose(ctx context.Context, handle string) error
}
