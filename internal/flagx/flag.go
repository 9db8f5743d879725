// Package flagx lets several flag sets share one command line. Each
// consumer picks the arguments it owns with FilterArgs and parses only
// those, so flags meant for another consumer never fail its parse.
package flagx

import (
	"flag"
	"os"
	"strconv"
	"strings"
)

// ConfigEnv names the environment variable consulted by ConfigPath when no
// -c/-config flag is given.
const ConfigEnv = "DROPBIN_CONFIG"

// FilterArgs keeps the arguments in args that belong to one of the allowed
// flag names, together with their values, in their original order.
//
// Names match regardless of the number of leading dashes, as in package
// flag: allowing "-c" also keeps "--c". Values are taken from "-c=v" or
// from the next argument unless that argument is itself a flag. Negative
// numbers count as values.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[flagName(f)] = true
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !isFlag(arg) {
			continue
		}

		name, _, hasValue := strings.Cut(arg, "=")
		if !allowed[flagName(name)] {
			continue
		}
		filtered = append(filtered, arg)
		if !hasValue && i+1 < len(args) && !isFlag(args[i+1]) {
			filtered = append(filtered, args[i+1])
			i++
		}
	}
	return filtered
}

// ConfigPath returns the config file named by -c or -config in args. The
// last occurrence wins. Without either flag it falls back to $DROPBIN_CONFIG
// and then to "".
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(discard{})
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	return path
}

func flagName(s string) string { return strings.TrimLeft(s, "-") }

func isFlag(s string) bool {
	if len(s) < 2 || s[0] != '-' {
		return false
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return false
	}
	return true
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
