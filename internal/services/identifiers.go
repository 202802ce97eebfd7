// Package services defines the L4 "service endpoint" shapes: thin,
// specified interfaces for the cross-process collaborators the core RPC
// layer dispatches to and calls into, without knowing their semantics
// (terminal, documents, editors, webviews, commands, extension-service,
// storage, configuration, tasks, language-model-tools, errors). The core
// only needs each shape's method names and signatures at registration
// time; this package supplies Go interfaces for them plus mocks for
// tests.
package services

import "github.com/stepherg/vshostbridge/internal/rpc"

// registry is the single process-wide ProxyIdentifier table. Both the
// host process and the extension host process link this package, so
// package-level var-initialization order assigns identical (sid, nid)
// pairs on both sides without any wire-level id negotiation, per the
// "ProxyIdentifiers are global" design note.
var registry = rpc.NewGlobalRegistry()

// Host-side shapes: the extension host calls into these, and the host
// process registers local implementations under these identifiers.
var (
	MainThreadDocuments     = registry.Register("MainThreadDocuments")
	MainThreadEditors       = registry.Register("MainThreadEditors")
	MainThreadWebviews      = registry.Register("MainThreadWebviews")
	MainThreadCommands      = registry.Register("MainThreadCommands")
	MainThreadStorage       = registry.Register("MainThreadStorage")
	MainThreadConfiguration = registry.Register("MainThreadConfiguration")
	MainThreadTasks         = registry.Register("MainThreadTasks")
	MainThreadTerminal      = registry.Register("MainThreadTerminal")
	MainThreadErrors        = registry.Register("MainThreadErrors")
)

// Extension-host-side shapes: the host process calls into these, and the
// extension host registers local implementations under these
// identifiers.
var (
	ExtHostDocuments          = registry.Register("ExtHostDocuments")
	ExtHostEditors            = registry.Register("ExtHostEditors")
	ExtHostWebviews           = registry.Register("ExtHostWebviews")
	ExtHostCommands           = registry.Register("ExtHostCommands")
	ExtHostExtensionService   = registry.Register("ExtHostExtensionService")
	ExtHostTasks              = registry.Register("ExtHostTasks")
	ExtHostLanguageModelTools = registry.Register("ExtHostLanguageModelTools")
	ExtHostTerminal           = registry.Register("ExtHostTerminal")
)
