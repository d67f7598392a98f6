// Package configs holds configuration templates embedded into the binary.
//
// ProjectConfigTemplate is written by 'docanalysis config init' as
// .docanalysis.yaml. Keep it in line with config.NewConfig.
package configs

import _ "embed"

// ProjectConfigTemplate is the commented project configuration.
//
//go:embed docanalysis.example.yaml
var ProjectConfigTemplate string
