// Package config loads chatsync configuration from YAML files with
// environment variable expansion and duration string parsing.
package config
