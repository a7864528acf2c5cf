package config

import (
	"fmt"
	"strings"
)

const (
	tokenStoreVar = "TOKEN_STORE"
	tokenKeyVar   = "TOKEN_KEY"
)

type StoreKind string

const (
	MemoryStore StoreKind = "memory"
	FileStore   StoreKind = "file"
	SQLiteStore StoreKind = "sqlite"
)

type StorageConfig interface {
	GetTokenStore() (StoreKind, error)
	GetTokenKey() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetTokenStore() (StoreKind, error) {
	switch kind := StoreKind(strings.ToLower(GetEnv(tokenStoreVar, string(MemoryStore)))); kind {
	case MemoryStore, FileStore, SQLiteStore:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown %s %q", tokenStoreVar, kind)
	}
}

// GetTokenKey names the stored token. One key per connected company.
func (Storage) GetTokenKey() string {
	return GetEnv(tokenKeyVar, "default")
}
