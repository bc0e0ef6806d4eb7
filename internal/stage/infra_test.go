package stage

import (
	"context"
	"strings"
	"testing"
)

func TestAnalyzeNodeProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"dependencies":{"next":"13.0.0","react":"18.0.0"}}`)

	a := Analyze(dir)
	if a.Primary() != "node" {
		t.Fatalf("primary = %q", a.Primary())
	}
	if !a.hasFramework("nextjs") || !a.hasFramework("react") {
		t.Fatalf("frameworks = %v", a.Frameworks)
	}
}

func TestAnalyzePythonProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", "FastAPI==0.104.1\npytest\n")

	a := Analyze(dir)
	if a.Primary() != "python" {
		t.Fatalf("primary = %q", a.Primary())
	}
	if !a.hasFramework("fastapi") || !a.hasFramework("pytest") {
		t.Fatalf("frameworks = %v", a.Frameworks)
	}
}

func TestAnalyzeEmptyDefaultsPython(t *testing.T) {
	a := Analyze(t.TempDir())
	if a.Primary() != "python" {
		t.Fatalf("primary = %q", a.Primary())
	}
}

func TestGenerateDockerfileFastAPI(t *testing.T) {
	a := Analysis{Languages: []string{"python"}, Frameworks: []string{"fastapi"}, PackageManagers: []string{"pip"}}
	d := generateDockerfile(a)
	if !strings.Contains(d, "FROM python:3.11-slim") {
		t.Fatal("missing python base image")
	}
	if !strings.Contains(d, `CMD ["uvicorn", "main:app"`) {
		t.Fatal("missing uvicorn entrypoint")
	}
}

func TestGenerateDockerfileNextJS(t *testing.T) {
	a := Analysis{Languages: []string{"node"}, Frameworks: []string{"nextjs"}}
	d := generateDockerfile(a)
	if !strings.Contains(d, "FROM node:18-alpine") || !strings.Contains(d, "npm run build") {
		t.Fatalf("unexpected dockerfile:\n%s", d)
	}
}

func TestGenerateDockerfileGo(t *testing.T) {
	a := Analysis{Languages: []string{"go"}}
	d := generateDockerfile(a)
	if !strings.Contains(d, "CGO_ENABLED=0") {
		t.Fatal("missing go build")
	}
}

func TestGenerateCIPipelinePerLanguage(t *testing.T) {
	for lang, marker := range map[string]string{
		"node":   "actions/setup-node@v3",
		"go":     "actions/setup-go@v4",
		"python": "actions/setup-python@v4",
	} {
		w := generateCIPipeline(Analysis{Languages: []string{lang}})
		if !strings.Contains(w, marker) {
			t.Errorf("%s workflow missing %s", lang, marker)
		}
		if !strings.Contains(w, "docker/build-push-action@v4") {
			t.Errorf("%s workflow missing build job", lang)
		}
	}
}

func TestInfraStageDelta(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", "flask==2.3.0\n")

	c, err := NewInfra().Run(context.Background(), depsContext(dir))
	if err != nil {
		t.Fatal(err)
	}
	if c["infrastructure_generated"] != true {
		t.Fatal("infrastructure_generated not set")
	}
	files, ok := c["infrastructure_files"].(map[string]string)
	if !ok {
		t.Fatalf("infrastructure_files = %T", c["infrastructure_files"])
	}
	for _, name := range []string{"Dockerfile", ".github/workflows/ci.yml", "docker-compose.yml", "k8s/manifests.yaml"} {
		if files[name] == "" {
			t.Errorf("missing generated file %s", name)
		}
	}
	if !strings.Contains(c.String("dockerfile"), `CMD ["python", "app.py"]`) {
		t.Fatalf("flask project should use flask entrypoint:\n%s", c.String("dockerfile"))
	}
}

func TestInfraStageKubernetesManifests(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "requirements.txt", "flask==2.0\n")

	c, err := NewInfra().Run(context.Background(), depsContext(dir))
	if err != nil {
		t.Fatal(err)
	}
	manifests := c.String("kubernetes_manifests")
	if manifests == "" {
		t.Fatal("kubernetes_manifests not set")
	}
	for _, kind := range []string{"kind: Deployment", "kind: Service", "kind: Secret", "kind: HorizontalPodAutoscaler"} {
		if !strings.Contains(manifests, kind) {
			t.Errorf("manifests missing %q", kind)
		}
	}
}
