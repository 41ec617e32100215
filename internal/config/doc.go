// Package config declares the robot's configuration document and loads it.
//
// The document is flat key/value (JSON, YAML or TOML). Unknown keys are
// ignored, missing required keys are a fatal *ConfigError, and every
// optional key has an explicit default exposed through a Get* accessor.
package config
