package storage

import (
	"context"

	"spikedeploy/internal/model"
)

// Store persists deployment artifacts so a configuration can be reloaded
// without re-quantizing.
type Store interface {
	Init(ctx context.Context) error
	SaveConfiguration(ctx context.Context, config model.Configuration) error
	GetConfiguration(ctx context.Context, id string) (model.Configuration, bool, error)
	ListConfigurations(ctx context.Context) ([]string, error)
	SaveRecording(ctx context.Context, recording model.Recording) error
	GetRecording(ctx context.Context, id string) (model.Recording, bool, error)
}
