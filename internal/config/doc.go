// Package config provides the configuration of crawlcore.
// It defines the scheduler, transport and CLI settings, their defaults and
// validation, the optional YAML override file with per-slot settings, and
// environment overrides loaded after an optional .env file.
package config
