package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[2]
	})
}

// typed re-types an expanded scalar so "${PORT:-8080}" decodes as a number.
func typed(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// ExpandEnv walks a decoded YAML tree and expands environment references
// in string leaves. Leaves without references keep their original type.
func ExpandEnv(node any) any {
	switch v := node.(type) {
	case string:
		if out := expandString(v); out != v {
			return typed(out)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = ExpandEnv(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = ExpandEnv(child)
		}
		return out
	}
	return node
}

// LoadEnvFiles loads .env.local then .env. Variables already present in the
// process environment win.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}
