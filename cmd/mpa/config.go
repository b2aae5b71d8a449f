package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultOutput      = "assets/songs_generated.csv"
	defaultDBPath      = "artifacts/mpa-history.db"
	defaultEventLogDir = "artifacts"
	defaultReportDir   = "artifacts/reports"
)

// Dashes in keys become underscores in environment variables
var envKeyReplacer = strings.NewReplacer("-", "_")

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (MPA_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigDuration retrieves a duration config value; zero when unset
func GetConfigDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetConfigBool retrieves a bool config value
func GetConfigBool(key string) bool {
	return viper.GetBool(key)
}
