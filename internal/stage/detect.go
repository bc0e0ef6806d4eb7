package stage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Analysis describes the detected technology stack of a checked-out
// project.
type Analysis struct {
	Languages       []string `json:"languages"`
	Frameworks      []string `json:"frameworks"`
	PackageManagers []string `json:"package_managers"`
}

// Primary returns the first detected language, defaulting to python like
// the rest of the template tables.
func (a Analysis) Primary() string {
	if len(a.Languages) > 0 {
		return a.Languages[0]
	}
	return "python"
}

func (a Analysis) hasFramework(name string) bool {
	for _, f := range a.Frameworks {
		if f == name {
			return true
		}
	}
	return false
}

func (a Analysis) hasPackageManager(sub string) bool {
	for _, pm := range a.PackageManagers {
		if strings.Contains(pm, sub) {
			return true
		}
	}
	return false
}

// manifestInfo maps a manifest file to the language and package manager it
// implies. Order matters: earlier entries decide the primary language.
var manifests = []struct {
	file     string
	language string
	manager  string
}{
	{"package.json", "node", "npm/yarn"},
	{"requirements.txt", "python", "pip"},
	{"Pipfile", "python", "pipenv"},
	{"poetry.lock", "python", "poetry"},
	{"go.mod", "go", "go modules"},
	{"pom.xml", "java", "maven"},
	{"build.gradle", "java", "gradle"},
	{"Gemfile", "ruby", "bundler"},
	{"Cargo.toml", "rust", "cargo"},
	{"composer.json", "php", "composer"},
}

// Analyze inspects the workdir's manifest files to determine languages,
// frameworks, and package managers. Unreadable manifests degrade to
// language detection only.
func Analyze(workdir string) Analysis {
	var a Analysis
	for _, m := range manifests {
		path := filepath.Join(workdir, m.file)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		a.Languages = append(a.Languages, m.language)
		a.PackageManagers = append(a.PackageManagers, m.manager)

		switch m.file {
		case "package.json":
			a.Frameworks = append(a.Frameworks, nodeFrameworks(path)...)
		case "requirements.txt":
			a.Frameworks = append(a.Frameworks, pythonFrameworks(path)...)
		}
	}
	return a
}

func nodeFrameworks(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	deps := make(map[string]struct{}, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for name := range pkg.Dependencies {
		deps[name] = struct{}{}
	}
	for name := range pkg.DevDependencies {
		deps[name] = struct{}{}
	}

	var frameworks []string
	checks := []struct{ dep, framework string }{
		{"react", "react"},
		{"vue", "vue"},
		{"next", "nextjs"},
		{"express", "express"},
		{"@angular/core", "angular"},
	}
	for _, c := range checks {
		if _, ok := deps[c.dep]; ok {
			frameworks = append(frameworks, c.framework)
		}
	}
	return frameworks
}

func pythonFrameworks(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	text := strings.ToLower(string(data))

	var frameworks []string
	for _, name := range []string{"django", "flask", "fastapi", "pytest"} {
		if strings.Contains(text, name) {
			frameworks = append(frameworks, name)
		}
	}
	return frameworks
}
