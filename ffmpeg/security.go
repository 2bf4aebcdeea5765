package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Options that would add inputs, overwrite files or read from elsewhere
// are reserved for the runner.
var reservedOptions = map[string]bool{
	"-i":               true,
	"-y":               true,
	"-n":               true,
	"-filter_script":   true,
	"-dump_attachment": true,
	"-attach":          true,
	"-report":          true,
}

// SplitArgs splits extra ffmpeg arguments without involving a shell.
func SplitArgs(extra string) ([]string, error) {
	args, err := shlex.Split(extra)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return args, nil
}

// SanitizeArgs rejects extra arguments that could touch files other than
// the runner's own input and output.
func SanitizeArgs(args []string) error {
	for _, arg := range args {
		if reservedOptions[arg] {
			return fmt.Errorf("option not allowed in extra arguments: %s", arg)
		}
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
		if strings.Contains(arg, "://") || strings.HasPrefix(arg, "/") || strings.Contains(arg, "..") {
			return fmt.Errorf("paths and urls are not allowed in arguments: %s", arg)
		}
	}
	return nil
}
