// Package config provides environment-based configuration.
//
// Loads from a .env file (godotenv) with system environment taking
// precedence. Validates required fields at startup.
package config
