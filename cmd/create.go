package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/simput/internal/domain"
	"github.com/zjrosen/simput/internal/proxy"
	"github.com/zjrosen/simput/internal/value"
)

var (
	createSets   []string
	createName   string
	createTags   []string
	createOutput string
)

type createResult struct {
	Proxy   proxy.State                     `json:"proxy"`
	Domains map[string]domain.PropertyState `json:"domains"`
}

var createCmd = &cobra.Command{
	Use:   "create TYPE",
	Short: "Create a proxy and print its state",
	Long: `Create a proxy of TYPE with its initial values and domains applied.

Values given with --set are decoded as YAML scalars or flow lists.

Examples:
  simput create -m model.yaml Sphere --set Radius=2 --set Center=[0,0,0]

  # Also write the exported document
  simput create -m model.yaml Sphere --output state.json`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	values := make(map[string]value.Value, len(createSets))
	for _, arg := range createSets {
		a, err := parseAssignment(arg, false)
		if err != nil {
			return err
		}
		values[a.Name] = a.Value
	}

	s, closeSession, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer closeSession()

	opts := []proxy.CreateOption{proxy.WithValues(values), proxy.WithTags(createTags...)}
	if createName != "" {
		opts = append(opts, proxy.WithName(createName))
	}
	st, err := s.Create(cmd.Context(), args[0], opts...)
	if err != nil {
		return err
	}
	domains, err := s.DomainState(st.ID)
	if err != nil {
		return err
	}

	if createOutput != "" {
		if err := s.Do(func(m *proxy.Manager) error { return m.SaveFile(createOutput) }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", createOutput)
	}
	return NewFormatter(cmd.OutOrStdout()).Format(createResult{Proxy: st, Domains: domains})
}

func init() {
	createCmd.Flags().StringArrayVarP(&createSets, "set", "s", nil, "property value as name=value (repeatable)")
	createCmd.Flags().StringVar(&createName, "name", "", "display name of the proxy")
	createCmd.Flags().StringArrayVarP(&createTags, "tag", "t", nil, "extra tag (repeatable)")
	createCmd.Flags().StringVarP(&createOutput, "output", "o", "", "write the exported document to this file")
	rootCmd.AddCommand(createCmd)
}
