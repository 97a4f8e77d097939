package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/simput/internal/config"
	"github.com/zjrosen/simput/internal/domain"
)

const cliModel = `
Sphere:
  _tags: [shape]
  Radius:
    type: float64
    domains:
      - type: Range
        value_range: [0, 10]
        level: 2
  Center:
    type: float64
    size: 3
    initial: [0, 0, 0]
Label:
  Text:
    initial: hello
`

type cliEnv struct {
	dir    string
	config string
	model  string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := cliEnv{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		model:  filepath.Join(dir, "model.yaml"),
	}
	require.NoError(t, os.WriteFile(env.config, []byte("watch:\n  debounce: 20ms\n"), 0o600))
	require.NoError(t, os.WriteFile(env.model, []byte(cliModel), 0o600))
	return env
}

func resetGlobals() {
	viper.Reset()
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	cfg = config.Config{}
	cfgFile, extraModels = "", nil
	typeTags = nil
	createSets, createName, createTags, createOutput = nil, "", nil, ""
	applySets, applyCommit, applyOutput = nil, false, ""
	validateLevel = domain.LevelError
	watchState = ""
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(ctx context.Context, out *syncBuffer, args ...string) error {
	resetGlobals()
	rootCmd.SetOut(out)
	rootCmd.SetErr(&syncBuffer{})
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out syncBuffer
	err := execute(context.Background(), &out, args...)
	return out.String(), err
}

func TestTypes(t *testing.T) {
	env := newCLIEnv(t)

	out, err := run(t, "types", "-c", env.config, "-m", env.model)
	require.NoError(t, err)
	var types []typeInfo
	require.NoError(t, json.Unmarshal([]byte(out), &types))
	require.Len(t, types, 2)
	require.Equal(t, "Sphere", types[0].Name)
	require.Equal(t, []string{"shape"}, types[0].Tags)
	require.Equal(t, []string{"Range"}, types[0].Properties[0].Domains)
	require.Equal(t, 3, types[0].Properties[1].Size)

	out, err = run(t, "types", "-c", env.config, "-m", env.model, "--tag", "shape")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &types))
	require.Len(t, types, 1)
}

func TestTypes_MissingModel(t *testing.T) {
	env := newCLIEnv(t)
	_, err := run(t, "types", "-c", env.config, "-m", filepath.Join(env.dir, "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCreate(t *testing.T) {
	env := newCLIEnv(t)

	out, err := run(t, "create", "-c", env.config, "-m", env.model, "Sphere", "--set", "Center=[1, 2, 3]", "--name", "ball")
	require.NoError(t, err)

	var res struct {
		Proxy struct {
			ID         string         `json:"id"`
			Name       string         `json:"name"`
			Properties map[string]any `json:"properties"`
		} `json:"proxy"`
		Domains map[string]any `json:"domains"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "ball", res.Proxy.Name)
	require.Equal(t, 5.0, res.Proxy.Properties["Radius"], "range domain fills the mean")
	require.Equal(t, []any{1.0, 2.0, 3.0}, res.Proxy.Properties["Center"])
	require.Contains(t, res.Domains, "Radius")
}

func TestCreate_BadAssignment(t *testing.T) {
	env := newCLIEnv(t)
	_, err := run(t, "create", "-c", env.config, "-m", env.model, "Sphere", "--set", "Radius")
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected name=value")
}

func TestCreateApplyValidate(t *testing.T) {
	env := newCLIEnv(t)
	state := filepath.Join(env.dir, "state.json")
	next := filepath.Join(env.dir, "next.json")

	_, err := run(t, "create", "-c", env.config, "-m", env.model, "Sphere", "-o", state)
	require.NoError(t, err)

	_, err = run(t, "validate", "-c", env.config, state)
	require.NoError(t, err, "the embedded model is enough to validate")

	out, err := run(t, "apply", "-c", env.config, state, "--set", "1.Radius=50", "--commit", "-o", next)
	require.NoError(t, err)
	var res struct {
		Result struct {
			Touched []string `json:"touched"`
		} `json:"result"`
		Committed []string `json:"committed"`
		Document  any      `json:"document"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Result.Touched, 1)
	require.Equal(t, res.Result.Touched, res.Committed)
	require.Nil(t, res.Document)

	out, err = run(t, "validate", "-c", env.config, next)
	require.ErrorIs(t, err, ErrInvalid)
	var issues []issue
	require.NoError(t, json.Unmarshal([]byte(out), &issues))
	require.Len(t, issues, 1)
	require.Equal(t, "Radius", issues[0].Property)
	require.Equal(t, domain.LevelError, issues[0].Level)
}

func TestApply_UnknownTarget(t *testing.T) {
	env := newCLIEnv(t)
	state := filepath.Join(env.dir, "state.json")
	_, err := run(t, "create", "-c", env.config, "-m", env.model, "Label", "-o", state)
	require.NoError(t, err)

	_, err = run(t, "apply", "-c", env.config, state, "--set", "42.Text=x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "42")

	out, err := run(t, "apply", "-c", env.config, state, "--set", "1.Text=bye")
	require.NoError(t, err)
	require.Contains(t, out, `"bye"`)
}

func TestConfigInitAndAddModel(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(env.dir, "fresh", "config.yaml")

	_, err := run(t, "config", "init", path)
	require.NoError(t, err)
	_, err = run(t, "config", "init", path)
	require.Error(t, err)

	_, err = run(t, "config", "add-model", "-c", path, env.model)
	require.NoError(t, err)

	out, err := run(t, "types", "-c", path)
	require.NoError(t, err)
	require.Contains(t, out, `"Sphere"`)
}

func TestInvalidConfig(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(env.config, []byte("domains:\n  max_passes: 0\n"), 0o600))
	_, err := run(t, "types", "-c", env.config, "-m", env.model)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_passes")
}

func TestWatch_ReportsReloads(t *testing.T) {
	env := newCLIEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- execute(ctx, &out, "watch", "-c", env.config, "-m", env.model) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"types":["Sphere","Label"]`)
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(env.model, []byte(cliModel+"Extra:\n  Flag: {type: bool}\n"), 0o600))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"Extra"`)
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}
