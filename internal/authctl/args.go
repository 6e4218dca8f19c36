package authctl

import "strings"

// valueFlags take a separate value argument ("-d dsn").
var valueFlags = map[string]struct{}{
	"-c": {}, "-config": {}, "--config": {},
	"-a": {}, "-m": {}, "-d": {}, "-s": {}, "-t": {}, "-r": {}, "-f": {},
}

// CommandArgs drops configuration flags and their values from args, leaving
// the command and its positional arguments.
func CommandArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return append(out, args[i+1:]...)
		}
		if !strings.HasPrefix(a, "-") || len(out) > 0 {
			out = append(out, a)
			continue
		}
		if strings.Contains(a, "=") {
			continue
		}
		if _, ok := valueFlags[a]; ok && i+1 < len(args) {
			i++
		}
	}
	return out
}
