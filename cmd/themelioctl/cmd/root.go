package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the themelioctl command tree
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "themelioctl",
		Short:        "Themelio resource tooling",
		Long:         "themelioctl - inspect label selectors and validate resource definitions offline",
		SilenceUsage: true,
	}

	root.AddCommand(newSelectorCommand())
	root.AddCommand(newDefinitionCommand())
	return root
}
