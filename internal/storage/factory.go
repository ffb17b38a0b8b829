// File: internal/storage/factory.go
package storage

import (
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// NewStorage creates a storage backend based on configuration
func NewStorage(config *StorageConfig) (Store, error) {
	switch config.Type {
	case "sqlite", "":
		return NewSQLiteStorage(config), nil
	case "postgres", "postgresql":
		return NewPostgresStorage(config), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", config.Type)
	}
}
