package app

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DumpConfig prints the effective configuration. Credential-bearing fields
// are tagged yaml:"-" and never printed.
func (a *App) DumpConfig() error {
	out, err := yaml.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = a.Out.Write(out)
	return err
}
