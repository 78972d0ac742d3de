// Package tests holds helpers shared by integration tests.
package tests

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/google/uuid"
)

func getEnvOrDefault(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// GetDbConfigFromEnv reads the test database connection from RUNTIME_INDEXER_DATABASE_* env vars.
func GetDbConfigFromEnv() *config.DatabaseConfig {
	prefix := config.ENV_PREFIX + "_DATABASE_"
	port, err := strconv.Atoi(getEnvOrDefault(prefix+"PORT", "5432"))
	if err != nil {
		port = 5432
	}
	return &config.DatabaseConfig{
		Host:       getEnvOrDefault(prefix+"HOST", "localhost"),
		Port:       port,
		User:       getEnvOrDefault(prefix+"USER", ""),
		Password:   getEnvOrDefault(prefix+"PASSWORD", ""),
		SchemaName: getEnvOrDefault(prefix+"SCHEMA_NAME", ""),
		SSLMode:    getEnvOrDefault(prefix+"SSL_MODE", "disable"),
	}
}

// DatabaseTestsEnabled reports whether postgres integration tests should run.
func DatabaseTestsEnabled() bool {
	return os.Getenv(config.ENV_PREFIX+"_TEST_DATABASE") == "true"
}

func GenerateTestDbName() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("test_%s", strings.ReplaceAll(id.String(), "-", "")), nil
}

func ReplaceEnv(newValues map[string]string, previousValues *map[string]string) {
	for k, v := range newValues {
		(*previousValues)[k] = os.Getenv(k)
		os.Setenv(k, v)
	}
}

func RestoreEnv(previousValues map[string]string) {
	for k, v := range previousValues {
		os.Setenv(k, v)
	}
}
