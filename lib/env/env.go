package env

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Load reads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func Load() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf(`godotenv: %w`, err)
	}
	return nil
}

func Default(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

// Duration parses name as a time.Duration, returning fallback when unset.
func Duration(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == `` {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf(`%s: %w`, name, err)
	}
	return d, nil
}
