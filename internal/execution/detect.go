package execution

import (
	"context"
	"os/exec"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// KnownTools are probed at session start and after install commands
var KnownTools = []string{
	"git", "cargo", "npm", "python", "node", "docker", "kubectl", "make",
	"cmake", "gcc", "clang", "rustc", "javac", "mvn", "go",
}

// ToolDetector reports which known tools are on PATH
type ToolDetector struct {
	Tools    []string
	LookPath func(string) (string, error)
}

// NewToolDetector probes KnownTools with exec.LookPath
func NewToolDetector() *ToolDetector {
	return &ToolDetector{Tools: KnownTools, LookPath: exec.LookPath}
}

// Detect probes every tool concurrently and returns the available ones sorted
func (d *ToolDetector) Detect(ctx context.Context) ([]string, error) {
	var (
		mu    sync.Mutex
		found []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, tool := range d.Tools {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := d.LookPath(tool); err == nil {
				mu.Lock()
				found = append(found, tool)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(found)
	return found, nil
}
