package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"github.com/webgis/backend/internal/config"
	"github.com/webgis/backend/internal/database"
	"github.com/webgis/backend/internal/logging"
	"github.com/webgis/backend/internal/storage"
	gormstorage "github.com/webgis/backend/internal/storage/gorm"
)

// openStorage connects to the configured database, migrates it and wraps it
// in the GORM storage backend.
func openStorage() (*database.Manager, storage.Backend, error) {
	storageCfg := config.GetStorageConfig()
	dbManager := database.NewManager(logging.NewZerolog(os.Stdout, viper.GetString("logLevel")), storageCfg)

	Logger.Info("Connecting to database", "type", storageCfg.Type)
	if err := dbManager.Connect(); err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := dbManager.Setup(); err != nil {
		_ = dbManager.Close()
		return nil, nil, fmt.Errorf("set up database: %w", err)
	}

	backend := gormstorage.New(gormstorage.Dependencies{
		DB:         dbManager.DB,
		LogManager: SlogManager,
	})
	Logger.Info("Storage backend initialized", "dialect", dbManager.DB.Dialector.Name(), "sqliteFallback", dbManager.UsingSQLite)
	return dbManager, backend, nil
}
