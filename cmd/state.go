package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zjrosen/simput/internal/domain"
)

type loader func(ctx context.Context, r io.Reader) ([]string, error)

// loadStateFile feeds the document at path to load.
func loadStateFile(cmd *cobra.Command, load loader, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	defer func() { _ = f.Close() }()
	return load(cmd.Context(), f)
}

func sortedPropertyNames(state map[string]domain.PropertyState) []string {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
