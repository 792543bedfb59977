package secret

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Provider resolves secrets by reference string.
//
// Implementations must be safe for concurrent use and must not log
// secret values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvProvider resolves references against the process environment.
type EnvProvider struct{}

// Name returns "env".
func (EnvProvider) Name() string { return "env" }

// Resolve looks the reference up as an environment variable.
func (EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	value, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("secret: environment variable %s is not set", ref)
	}
	return value, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv expands ${VAR} references in s and errors on any variable
// missing from the environment. `$$` escapes a literal dollar sign.
// Endpoint URLs and API keys are configured through this, so a missing
// variable fails construction instead of producing a half-formed URL.
func ExpandEnv(s string) (string, error) {
	const escaped = "\x00rpcpool-dollar\x00"
	s = strings.ReplaceAll(s, "$$", escaped)

	var missing []string
	seen := make(map[string]bool)
	for _, match := range envPattern.FindAllStringSubmatch(s, -1) {
		name := match[1]
		if _, ok := os.LookupEnv(name); !ok && !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("secret: missing environment variables: %s", strings.Join(missing, ", "))
	}

	s = envPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envPattern.FindStringSubmatch(m)[1])
	})
	return strings.ReplaceAll(s, escaped, "$"), nil
}

// Resolver resolves configuration values that may contain environment
// references or "secretref:<provider>:<ref>" indirections.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver. EnvProvider is always registered.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider)}
	r.Register(EnvProvider{})
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, replacing any previous one with the same
// name.
func (r *Resolver) Register(p Provider) {
	if p != nil {
		r.providers[p.Name()] = p
	}
}

const refPrefix = "secretref:"

// Resolve expands environment references and then, when the value is a
// secretref, resolves it through the named provider.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnv(value)
	if err != nil {
		return "", err
	}

	if !strings.HasPrefix(expanded, refPrefix) {
		return expanded, nil
	}

	rest := strings.TrimPrefix(expanded, refPrefix)
	name, ref, ok := strings.Cut(rest, ":")
	if !ok || name == "" || ref == "" {
		return "", fmt.Errorf("secret: malformed reference %q, want secretref:<provider>:<ref>", expanded)
	}

	provider, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("secret: unknown provider %q", name)
	}
	return provider.Resolve(ctx, ref)
}
