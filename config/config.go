// Package config loads engine configuration from environment variables
// and an optional config file.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/mauzec/todo-keeper/persist"
	"github.com/mauzec/todo-keeper/storage"
)

// Storage modes accepted by STORAGE_MODE.
const (
	StorageModeMemory = "memory"
	StorageModeFile   = "file"
	StorageModeBolt   = "bbolt"
)

type EngineConfig struct {
	StorageMode       string        `mapstructure:"STORAGE_MODE" validate:"oneof=memory file bbolt"`
	DataDir           string        `mapstructure:"DATA_DIR" validate:"min=1"`
	SaveDebounce      time.Duration `mapstructure:"SAVE_DEBOUNCE" validate:"nonzero_duration"`
	PruneRetention    time.Duration `mapstructure:"PRUNE_RETENTION" validate:"nonzero_duration"`
	StorageLimitBytes int           `mapstructure:"STORAGE_LIMIT_BYTES" validate:"min=1"`
	DefaultListTitle  string        `mapstructure:"DEFAULT_LIST_TITLE" validate:"min=1"`
}

func (c *EngineConfig) Validate() error {
	v := validator.New()

	_ = v.RegisterValidation("nonzero_duration", func(fl validator.FieldLevel) bool {
		if d, ok := fl.Field().Interface().(time.Duration); ok {
			return d > 0
		} else {
			return false
		}
	})
	if err := v.Struct(c); err != nil {
		return err
	}
	return nil
}

// Load reads the named config file from the given paths, overlays
// environment variables, and fills in defaults. A missing config file
// is fine; env plus defaults is a complete configuration.
func Load(name, ext string, paths ...string) (*EngineConfig, error) {
	v := viper.New()
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetConfigName(name)
	v.SetConfigType(ext)
	v.AutomaticEnv()

	v.SetDefault("STORAGE_MODE", StorageModeFile)
	v.SetDefault("DATA_DIR", "./data/keeper")
	v.SetDefault("SAVE_DEBOUNCE", persist.DefaultDebounceWindow)
	v.SetDefault("PRUNE_RETENTION", persist.DefaultRetention)
	v.SetDefault("STORAGE_LIMIT_BYTES", storage.DefaultCapacity)
	v.SetDefault("DEFAULT_LIST_TITLE", "Inbox")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &EngineConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
