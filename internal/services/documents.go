package services

import "context"

// ModelAddedData describes a text document opened on the ExtHost side
// and mirrored to the host.
type ModelAddedData struct {
	URI        string
	LanguageID string
	Lines      []string
	EOL        string
	VersionID  int
}

// MainThreadDocumentsShape is implemented by the host and called by the
// extension host whenever a document's state changes.
type MainThreadDocumentsShape interface {
	AcceptModelAdd(ctx context.Context, data ModelAddedData) error
	AcceptModelChanged(ctx context.Context, uri string, versionID int, lines []string) error
	AcceptModelSaved(ctx context.Context, uri string) error
	AcceptModelRemoved(ctx context.Context, uri string) error
}

// ExtHostDocumentsShape is implemented by the extension host and called
// by the host to push document-related requests into the extension API
// surface.
type ExtHostDocumentsShape interface {
	AcceptDirtyStateChanged(ctx context.Context, uri string, isDirty bool) error
}
