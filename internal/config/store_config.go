package config

import (
	"encoding/hex"
	"fmt"
)

type StoreConfig interface {
	GetStoreBackend() string
	GetRedisAddr() string
	GetRedisPrefix() string
	GetStoreKey() ([]byte, error)
}

const (
	StoreBackendFile   = "file"
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreBackend() string {
	return GetEnv("STORE_BACKEND", StoreBackendFile)
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "session:")
}

// GetStoreKey returns the at-rest encryption key for the file store, or nil
// when STORE_KEY is unset.
func (Store) GetStoreKey() ([]byte, error) {
	value := GetEnv("STORE_KEY", "")
	if value == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("STORE_KEY is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("STORE_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
