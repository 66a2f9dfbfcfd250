package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// choice is a flag value restricted to a fixed set of options. The empty
// string stays allowed so optional flags can be left unset.
type choice struct {
	value   string
	options []string
}

var _ pflag.Value = (*choice)(nil)

func newChoice(def string, options ...string) *choice {
	return &choice{value: def, options: options}
}

func (c *choice) String() string { return c.value }

// Type reports "string" so Flags().GetString works on choice flags.
func (c *choice) Type() string { return "string" }

func (c *choice) Set(v string) error {
	if v == "" {
		c.value = ""
		return nil
	}
	for _, opt := range c.options {
		if v == opt {
			c.value = v
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(c.options, ", "))
}
