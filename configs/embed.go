package configs

import "embed"

// TestDefaults contains the shipped buffalo-defined test definitions.
//
//go:embed tests/*.yaml
var TestDefaults embed.FS
