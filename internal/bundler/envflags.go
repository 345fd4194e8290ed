package bundler

import (
	"fmt"
	"sort"
)

// BuildEnvFlags renders a configuration map as bundler CLI flags. Each key
// becomes --env.<key>[=<value>]: boolean true flags are bare, false flags are
// omitted, and array values repeat the flag once per element. Keys are
// sorted so repeated spawns are deterministic.
func BuildEnvFlags(env map[string]any) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	flags := make([]string, 0, len(env))
	for _, key := range keys {
		switch value := env[key].(type) {
		case bool:
			if value {
				flags = append(flags, "--env."+key)
			}
		case []string:
			for _, item := range value {
				flags = append(flags, fmt.Sprintf("--env.%s=%s", key, item))
			}
		case []any:
			for _, item := range value {
				flags = append(flags, fmt.Sprintf("--env.%s=%v", key, item))
			}
		default:
			flags = append(flags, fmt.Sprintf("--env.%s=%v", key, value))
		}
	}
	return flags
}
