package config

import (
	"io"

	"github.com/pelletier/go-toml/v2"
)

const redacted = "***"

// Dump writes c as TOML with secrets masked.
func Dump(w io.Writer, c *Config) error {
	out := *c
	if out.Token != "" {
		out.Token = redacted
	}
	if out.HFToken != "" {
		out.HFToken = redacted
	}
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(out)
}
