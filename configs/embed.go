// Package configs embeds the configuration templates written by
// 'storyrag config init'.
//
// Templates are embedded at build time so every distribution carries them.
// Values in the templates match the built-in defaults of internal/config;
// keys left commented out keep their default.
//
// Configuration hierarchy (see internal/config Load):
//  1. Built-in defaults
//  2. User config ($XDG_CONFIG_HOME/storyrag/config.yaml)
//  3. Project config (.storyrag.yaml)
//  4. .env in the project directory
//  5. Environment variables (LLAMA_*, STORYRAG_*)
package configs

import _ "embed"

// ProjectConfigTemplate is written to .storyrag.yaml in the project.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is written to the user config path. It only holds
// machine-level settings such as server addresses.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
