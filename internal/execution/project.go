package execution

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ProjectType is a detected project kind with the files that gave it away
type ProjectType struct {
	ID         string
	Evidence   []string
	Confidence float64
}

type projectRule struct {
	id         string
	required   []string // any of these
	optional   []string
	confidence float64
}

var projectRules = []projectRule{
	{id: "go", required: []string{"go.mod"}, optional: []string{"go.sum"}, confidence: 0.94},
	{id: "rust", required: []string{"Cargo.toml"}, optional: []string{"Cargo.lock"}, confidence: 0.92},
	{id: "nodejs", required: []string{"package.json"}, optional: []string{"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "tsconfig.json"}, confidence: 0.85},
	{id: "python", required: []string{"pyproject.toml", "requirements.txt", "setup.py"}, optional: []string{"Pipfile", "poetry.lock", "uv.lock"}, confidence: 0.8},
	{id: "java", required: []string{"pom.xml", "build.gradle", "build.gradle.kts"}, optional: []string{"settings.gradle", "mvnw", "gradlew"}, confidence: 0.78},
	{id: "dotnet", required: []string{"*.csproj", "*.sln"}, optional: []string{"global.json"}, confidence: 0.86},
	{id: "ruby", required: []string{"Gemfile"}, optional: []string{"Gemfile.lock"}, confidence: 0.75},
	{id: "php", required: []string{"composer.json"}, optional: []string{"composer.lock"}, confidence: 0.82},
	{id: "cmake", required: []string{"CMakeLists.txt"}, confidence: 0.83},
	{id: "make", required: []string{"Makefile"}, optional: []string{"configure"}, confidence: 0.6},
	{id: "docker", required: []string{"Dockerfile", "docker-compose.yml", "compose.yaml"}, confidence: 0.55},
}

// ProjectDetector looks at the top level of a directory for build files
type ProjectDetector struct{}

// Detect returns all matching project types, most confident first
func (ProjectDetector) Detect(ctx context.Context, dir string) ([]ProjectType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	var out []ProjectType
	for _, rule := range projectRules {
		evidence := matchNames(names, rule.required)
		if len(evidence) == 0 {
			continue
		}
		extra := matchNames(names, rule.optional)
		confidence := rule.confidence + 0.02*float64(len(extra))
		if confidence > 1 {
			confidence = 1
		}
		out = append(out, ProjectType{ID: rule.id, Evidence: append(evidence, extra...), Confidence: confidence})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// Primary returns the ID of the most likely project type, or ""
func (d ProjectDetector) Primary(ctx context.Context, dir string) string {
	types, err := d.Detect(ctx, dir)
	if err != nil || len(types) == 0 {
		return ""
	}
	return types[0].ID
}

func matchNames(names, patterns []string) []string {
	var out []string
	for _, p := range patterns {
		for _, n := range names {
			ok := strings.EqualFold(n, p)
			if strings.HasPrefix(p, "*") {
				ok, _ = filepath.Match(strings.ToLower(p), strings.ToLower(n))
			}
			if ok {
				out = append(out, n)
				break
			}
		}
	}
	return out
}
