package services

import (
	"context"
	"sync"
)

// MockMainThreadDocuments records every accepted document event for
// assertion in tests that exercise the ExtHost -> host direction.
type MockMainThreadDocuments struct {
	mu     sync.Mutex
	Added  []ModelAddedData
	Saved  []string
	Removed []string
}

func (m *MockMainThreadDocuments) AcceptModelAdd(_ context.Context, data ModelAddedData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Added = append(m.Added, data)
	return nil
}

func (m *MockMainThreadDocuments) AcceptModelChanged(_ context.Context, _ string, _ int, _ []string) error {
	return nil
}

func (m *MockMainThreadDocuments) AcceptModelSaved(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saved = append(m.Saved, uri)
	return nil
}

func (m *MockMainThreadDocuments) AcceptModelRemoved(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Removed = append(m.Removed, uri)
	return nil
}

var _ MainThreadDocumentsShape = (*MockMainThreadDocuments)(nil)

// MockMainThreadCommands is a minimal in-memory command registry.
type MockMainThreadCommands struct {
	mu        sync.Mutex
	Registered map[string]bool
}

func NewMockMainThreadCommands() *MockMainThreadCommands {
	return &MockMainThreadCommands{Registered: make(map[string]bool)}
}

func (m *MockMainThreadCommands) RegisterCommand(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Registered[id] = true
	return nil
}

func (m *MockMainThreadCommands) UnregisterCommand(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Registered, id)
	return nil
}

func (m *MockMainThreadCommands) ExecuteCommand(_ context.Context, id string, args []byte) (any, error) {
	return map[string]any{"id": id, "argsLen": len(args)}, nil
}

var _ MainThreadCommandsShape = (*MockMainThreadCommands)(nil)

// MockMainThreadStorage is an in-memory key/value store keyed by
// extension id.
type MockMainThreadStorage struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func NewMockMainThreadStorage() *MockMainThreadStorage {
	return &MockMainThreadStorage{data: make(map[string]map[string][]byte)}
}

func (m *MockMainThreadStorage) GetValue(_ context.Context, extensionID, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[extensionID][key], nil
}

func (m *MockMainThreadStorage) SetValue(_ context.Context, extensionID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[extensionID]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[extensionID] = bucket
	}
	bucket[key] = value
	return nil
}

var _ MainThreadStorageShape = (*MockMainThreadStorage)(nil)
