package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/simput/internal/proxy"
	"github.com/zjrosen/simput/internal/session"
)

var (
	applySets   []string
	applyCommit bool
	applyOutput string
)

type applyResult struct {
	Result    *session.Result `json:"result"`
	Committed []string        `json:"committed,omitempty"`
	Document  *proxy.Document `json:"document,omitempty"`
}

var applyCmd = &cobra.Command{
	Use:   "apply STATE",
	Short: "Apply property edits to an exported document",
	Long: `Load an exported document, apply edits, run domains until they settle and
print the result with the updated document.

Edits address proxies by their id in STATE. The printed document uses fresh
ids, which the result refers to as well.

Examples:
  simput apply state.json --set 2.Radius=4 --commit

  # Write the document to a file and print only the result
  simput apply state.json --set 2.Radius=4 --commit --output next.json`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func runApply(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading state: %w", err)
	}
	var doc struct {
		Proxies []struct {
			ID string `json:"id"`
		} `json:"proxies"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", proxy.ErrMalformedDocument, err)
	}

	ctx := cmd.Context()
	s, closeSession, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer closeSession()

	ids, err := s.Load(ctx, bytes.NewReader(data))
	if err != nil {
		return err
	}
	idMap := make(map[string]string, len(ids))
	for i, p := range doc.Proxies {
		idMap[p.ID] = ids[i]
	}

	changes := make([]proxy.Change, 0, len(applySets))
	for _, arg := range applySets {
		a, err := parseAssignment(arg, true)
		if err != nil {
			return err
		}
		id, ok := idMap[a.Target]
		if !ok {
			return fmt.Errorf("%w: %s", proxy.ErrNotFound, a.Target)
		}
		changes = append(changes, proxy.Change{ID: id, Name: a.Name, Value: a.Value})
	}

	out := applyResult{}
	if out.Result, err = s.Apply(ctx, changes); err != nil {
		return err
	}
	if applyCommit {
		if out.Committed, err = s.CommitAll(ctx); err != nil {
			return err
		}
	}

	if applyOutput != "" {
		if err := s.Do(func(m *proxy.Manager) error { return m.SaveFile(applyOutput) }); err != nil {
			return err
		}
	} else {
		_ = s.Do(func(m *proxy.Manager) error {
			out.Document = m.Export()
			return nil
		})
	}
	return NewFormatter(cmd.OutOrStdout()).Format(out)
}

func init() {
	applyCmd.Flags().StringArrayVarP(&applySets, "set", "s", nil, "edit as id.name=value (repeatable)")
	applyCmd.Flags().BoolVar(&applyCommit, "commit", false, "commit every pending edit after domains settle")
	applyCmd.Flags().StringVarP(&applyOutput, "output", "o", "", "write the document to this file instead of stdout")
	rootCmd.AddCommand(applyCmd)
}
