package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/simput/internal/proxy"
)

var typeTags []string

type propertyInfo struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Size    int      `json:"size"`
	Domains []string `json:"domains,omitempty"`
}

type typeInfo struct {
	Name       string         `json:"name"`
	Tags       []string       `json:"tags"`
	Mixins     []string       `json:"mixins,omitempty"`
	Properties []propertyInfo `json:"properties"`
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the types defined by the loaded schemas",
	Long: `List every type of the loaded schemas with its tags and properties as JSON.

Examples:
  # All types of a schema file
  simput types -m model.yaml

  # Types carrying every given tag
  simput types -m model.yaml --tag node --tag visible`,
	RunE: runTypes,
}

func runTypes(cmd *cobra.Command, _ []string) error {
	s, closeSession, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer closeSession()

	out := []typeInfo{}
	err = s.Do(func(m *proxy.Manager) error {
		for _, name := range m.Types(typeTags...) {
			def, _ := m.Definition(name)
			info := typeInfo{Name: name, Tags: def.Tags, Mixins: def.Mixins, Properties: []propertyInfo{}}
			if info.Tags == nil {
				info.Tags = []string{}
			}
			for _, p := range def.Properties() {
				pi := propertyInfo{Name: p.Name, Type: p.Type, Size: p.Size}
				for _, d := range p.Domains {
					pi.Domains = append(pi.Domains, d.Kind())
				}
				info.Properties = append(info.Properties, pi)
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return NewFormatter(cmd.OutOrStdout()).Format(out)
}

func init() {
	typesCmd.Flags().StringArrayVarP(&typeTags, "tag", "t", nil, "only types carrying this tag (repeatable, AND logic)")
	rootCmd.AddCommand(typesCmd)
}
