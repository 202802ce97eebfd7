package services

import "context"

type MainThreadTasksShape interface {
	RegisterTaskProvider(ctx context.Context, taskType string) error
	ExecuteTask(ctx context.Context, taskID string) error
}

type ExtHostTasksShape interface {
	ProvideTasks(ctx context.Context, taskType string) ([]byte, error)
	ResolveTask(ctx context.Context, taskID string) ([]byte, error)
}
