package stage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentops/relay/internal/domain/deploy"
)

// Deps extracts the project's declared dependencies from its manifest.
// Node manifests win over Python ones when both are present.
type Deps struct{}

// NewDeps creates the dependency analysis stage.
func NewDeps() *Deps { return &Deps{} }

func (s *Deps) Name() string { return "deps" }

// OutputKeys lists the context keys this stage reports.
func (s *Deps) OutputKeys() []string {
	return []string{"dependency_notes", "dependencies", "risks"}
}

func (s *Deps) Run(_ context.Context, c deploy.Context) (deploy.Context, error) {
	workdir := c.String(deploy.KeyWorkdir)

	if data, err := os.ReadFile(filepath.Join(workdir, "package.json")); err == nil {
		return c.Merge(map[string]any{
			"package_manager": "npm",
			"dependencies":    parsePackageJSON(data),
		}), nil
	}

	if data, err := os.ReadFile(filepath.Join(workdir, "requirements.txt")); err == nil {
		return c.Merge(map[string]any{
			"package_manager": "pip",
			"dependencies":    parseRequirements(string(data)),
		}), nil
	}

	return c.Merge(map[string]any{
		"package_manager": nil,
		"dependencies":    map[string]string{},
	}), nil
}

// versionOperators are the comparison operators a requirements line may
// carry, longest first so "==" is not split as "=" twice.
var versionOperators = []string{"==", ">=", "<=", "~=", ">", "<"}

// parseRequirements parses a pip requirements file into name to version
// constraint. A bare name maps to "*"; blank lines and comments are
// skipped.
func parseRequirements(text string) map[string]string {
	deps := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name := line
		version := ""
		idx := -1
		opLen := 0
		for _, op := range versionOperators {
			if i := strings.Index(line, op); i >= 0 && (idx < 0 || i < idx || (i == idx && len(op) > opLen)) {
				idx = i
				opLen = len(op)
			}
		}
		if idx >= 0 {
			name = strings.TrimSpace(line[:idx])
			version = strings.TrimSpace(line[idx:])
		}
		if name == "" {
			continue
		}
		if version == "" {
			version = "*"
		}
		deps[name] = version
	}
	return deps
}

// parsePackageJSON merges the dependencies, devDependencies, and
// optionalDependencies sections of a package.json. A malformed file maps
// to an empty set.
func parsePackageJSON(data []byte) map[string]string {
	var pkg map[string]json.RawMessage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return map[string]string{}
	}

	deps := make(map[string]string)
	for _, key := range []string{"dependencies", "devDependencies", "optionalDependencies"} {
		raw, ok := pkg[key]
		if !ok {
			continue
		}
		var section map[string]string
		if err := json.Unmarshal(raw, &section); err != nil {
			continue
		}
		for name, version := range section {
			deps[name] = version
		}
	}
	return deps
}
