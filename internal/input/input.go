// Package input expands flag values that reference stdin (-) or a file
// (@path), so message bodies can be piped or kept in files.
package input

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Expand resolves a flag value: "-" reads all of stdin, "@path" reads the
// named file, anything else is returned as-is. Leading and trailing
// whitespace of expanded content is trimmed.
func Expand(value string) (string, error) {
	return expand(value, os.Stdin)
}

func expand(value string, stdin io.Reader) (string, error) {
	switch {
	case value == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case strings.HasPrefix(value, "@"):
		path := strings.TrimPrefix(value, "@")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return value, nil
	}
}
