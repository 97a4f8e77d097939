package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/simput/internal/domain"
	"github.com/zjrosen/simput/internal/proxy"
)

// ErrInvalid is returned by validate when a domain rejects a value.
var ErrInvalid = errors.New("document has invalid values")

var validateLevel int

type issue struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Property string `json:"property"`
	Level    int    `json:"level"`
	Message  string `json:"message"`
}

var validateCmd = &cobra.Command{
	Use:   "validate STATE",
	Short: "Check every proxy of a document against its domains",
	Long: `Load an exported document and list the values its domains reject.

Only hints at or above --level are reported (0 info, 1 warning, 2 error).
The command fails when anything is reported.

Examples:
  simput validate state.json
  simput validate state.json --level 1`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	s, closeSession, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer closeSession()

	if _, err := loadStateFile(cmd, s.Load, args[0]); err != nil {
		return err
	}

	issues := []issue{}
	_ = s.Do(func(m *proxy.Manager) error {
		for _, p := range m.Proxies() {
			issues = append(issues, proxyIssues(p.ID(), p.Type(), p.DomainState(), validateLevel)...)
		}
		return nil
	})

	if err := NewFormatter(cmd.OutOrStdout()).Format(issues); err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("%w: %d issue(s)", ErrInvalid, len(issues))
	}
	return nil
}

func proxyIssues(id, typ string, state map[string]domain.PropertyState, minLevel int) []issue {
	var out []issue
	for _, name := range sortedPropertyNames(state) {
		for _, h := range state[name].Hints {
			if h.Level < minLevel {
				continue
			}
			out = append(out, issue{ID: id, Type: typ, Property: name, Level: h.Level, Message: h.Message})
		}
	}
	return out
}

func init() {
	validateCmd.Flags().IntVarP(&validateLevel, "level", "l", domain.LevelError, "lowest hint level reported")
	rootCmd.AddCommand(validateCmd)
}
