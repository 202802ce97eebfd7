package services

import "context"

type MainThreadStorageShape interface {
	GetValue(ctx context.Context, extensionID, key string) ([]byte, error)
	SetValue(ctx context.Context, extensionID, key string, value []byte) error
}
