package util

import "github.com/spf13/viper"

// SeparationEnabled returns whether vocal separation should run.
// Separation can be disabled with the --no-sep flag or MPA_NO_SEP.
func SeparationEnabled() bool {
	return !viper.GetBool("no-sep")
}
