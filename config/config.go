package config

import (
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

var load sync.Once

// Config returns the value of an environment variable, loading .env once.
func Config(key string) string {
	load.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Printf("no .env file found, using process environment")
		}
	})
	return os.Getenv(key)
}

// ConfigInt returns an integer environment variable or the fallback.
func ConfigInt(key string, fallback int) int {
	if value := Config(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
