package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clipflow/clipflow/internal/backend/backendtest"
	"github.com/clipflow/clipflow/internal/config"
)

type cliTestEnv struct {
	fake       *backendtest.Server
	configPath string
	dataDir    string
	workDir    string
}

func setupCLITestEnv(t *testing.T, variant string) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	for _, key := range []string{
		config.EnvBackendURL, config.EnvVariant, config.EnvDataDir,
		config.EnvAPIToken, config.EnvPort, config.EnvLogLevel, config.EnvLogFormat,
	} {
		t.Setenv(key, "")
	}

	fake := backendtest.New(t)
	env := &cliTestEnv{
		fake:       fake,
		configPath: filepath.Join(base, "config.toml"),
		dataDir:    filepath.Join(base, "data"),
		workDir:    filepath.Join(base, "work"),
	}
	if err := os.MkdirAll(env.workDir, 0o755); err != nil {
		t.Fatalf("mkdir work: %v", err)
	}

	content := fmt.Sprintf(`[backend]
url = %q
variant = %q
timeout_seconds = 5

[paths]
data_dir = %q
`, fake.URL, variant, env.dataDir)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

// writeVideos creates small placeholder files in the work directory.
func (e *cliTestEnv) writeVideos(t *testing.T, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := filepath.Join(e.workDir, name)
		if err := os.WriteFile(p, []byte("not really a video: "+name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		paths = append(paths, p)
	}
	return paths
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	return runCLIContext(t, context.Background(), args, configPath)
}

func runCLIContext(t *testing.T, ctx context.Context, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
