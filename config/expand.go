package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv expands environment references in configuration text.
//
//   - $VAR and ${VAR} expand to the variable's value.
//   - ${VAR} with VAR unset is an error naming every missing variable;
//     an unset $VAR expands to "".
//   - $$ is a literal $.
func ExpandEnv(s string) (string, error) {
	const dollar = "\x00RELIA_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	seen := make(map[string]bool)
	for _, m := range envRef.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if _, ok := os.LookupEnv(name); !ok && !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	s = os.ExpandEnv(s)
	return strings.ReplaceAll(s, dollar, "$"), nil
}
