package services

import "context"

type MainThreadConfigurationShape interface {
	GetConfiguration(ctx context.Context, section string) ([]byte, error)
	UpdateConfiguration(ctx context.Context, section string, value []byte, global bool) error
}
