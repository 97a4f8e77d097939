package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/simput/internal/domain"
	"github.com/zjrosen/simput/internal/flags"
	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/proxy"
	"github.com/zjrosen/simput/internal/session"
	"github.com/zjrosen/simput/internal/watcher"
)

var watchState string

type watchReport struct {
	Changed []string                                   `json:"changed"`
	Types   []string                                   `json:"types"`
	Proxies int                                        `json:"proxies"`
	Issues  []issue                                    `json:"issues"`
	Domains map[string]map[string]domain.PropertyState `json:"domains,omitempty"`
	Error   string                                     `json:"error,omitempty"`
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload schemas and revalidate a document whenever they change",
	Long: `Watch the schema files, and the --state document when given. After each
change the schemas are reloaded, the document is loaded into a fresh session
and one JSON line is printed with the types and any values rejected by domains.

Stop with Ctrl+C.

Examples:
  simput watch -m model.yaml --state state.json`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	files := models()
	if len(files) == 0 {
		return fmt.Errorf("no schema files to watch: pass --model or set models in the config")
	}
	if watchState != "" {
		files = append(files, watchState)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := newRegistry()
	defer reg.Shutdown(context.Background())

	w, err := watcher.New(watcher.Config{Files: files, DebounceDur: cfg.Watch.Debounce})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()
	changes, err := w.Start()
	if err != nil {
		return err
	}

	out := NewFormatter(cmd.OutOrStdout())
	withDomains := flags.New(cfg.Flags).Enabled(flags.FlagDomainStateInEvents)
	var current *session.Session

	report := func(changed []string) error {
		rep, next := revalidate(ctx, reg, changed, withDomains)
		if current != nil {
			reg.Close(ctx, current.ID())
		}
		current = next
		return out.FormatLine(rep)
	}

	if err := report(nil); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case paths := <-changes:
			log.Info(log.CatCLI, "reloading", "paths", paths)
			if err := reg.ReloadModels(ctx, schemaPaths(paths)...); err != nil {
				if err := out.FormatLine(watchReport{Changed: paths, Error: err.Error()}); err != nil {
					return err
				}
				continue
			}
			if err := report(paths); err != nil {
				return err
			}
		}
	}
}

// revalidate opens a session, loads the watched document into it and
// reports its state. The session is returned so the caller can close the
// previous one; it is nil on failure.
func revalidate(ctx context.Context, reg *session.Registry, changed []string, withDomains bool) (watchReport, *session.Session) {
	rep := watchReport{Changed: changed, Types: []string{}, Issues: []issue{}}
	if rep.Changed == nil {
		rep.Changed = []string{}
	}

	s, err := reg.Open(ctx)
	if err != nil {
		rep.Error = err.Error()
		return rep, nil
	}
	if watchState != "" {
		data, err := os.ReadFile(watchState)
		if err == nil {
			_, err = s.Load(ctx, bytes.NewReader(data))
		}
		if err != nil {
			rep.Error = err.Error()
		}
	}

	_ = s.Do(func(m *proxy.Manager) error {
		rep.Types = m.Types()
		rep.Proxies = m.Len()
		if withDomains {
			rep.Domains = make(map[string]map[string]domain.PropertyState)
		}
		for _, p := range m.Proxies() {
			state := p.DomainState()
			rep.Issues = append(rep.Issues, proxyIssues(p.ID(), p.Type(), state, domain.LevelError)...)
			if withDomains {
				rep.Domains[p.ID()] = state
			}
		}
		return nil
	})
	return rep, s
}

// schemaPaths maps changed absolute paths back to the schema files as
// configured, dropping the watched document.
func schemaPaths(paths []string) []string {
	byAbs := make(map[string]string)
	for _, m := range models() {
		abs, err := filepath.Abs(m)
		if err != nil {
			continue
		}
		byAbs[abs] = m
	}
	var out []string
	for _, p := range paths {
		if m, ok := byAbs[p]; ok {
			out = append(out, m)
		}
	}
	return out
}

func init() {
	watchCmd.Flags().StringVar(&watchState, "state", "", "exported document to revalidate on every change")
	rootCmd.AddCommand(watchCmd)
}
