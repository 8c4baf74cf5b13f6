package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tsamsiyu/themelio/pkg/naming"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/validation"
)

func newDefinitionCommand() *cobra.Command {
	def := &cobra.Command{
		Use:   "definition",
		Short: "Work with resource definitions",
	}

	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a resource definition document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readDocument(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			loaded, err := definition.Load(naming.Default(), data)
			if err != nil {
				return err
			}
			if err := validation.ValidateSchemas(loaded); err != nil {
				return err
			}
			storage, err := loaded.StorageVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s is valid: kind %s, scope %s, served [%s], storage %s\n",
				loaded.Group, loaded.Names.Plural, loaded.Names.Kind, loaded.Scope,
				strings.Join(loaded.ServedVersions(), ","), storage.Name)
			return nil
		},
	}
	addFileFlag(validate.Flags(), &file)
	def.AddCommand(validate)

	return def
}

func addFileFlag(flags *pflag.FlagSet, file *string) {
	flags.StringVarP(file, "filename", "f", "", "Definition document in YAML or JSON, - for stdin")
}

func readDocument(stdin io.Reader, file string) ([]byte, error) {
	switch file {
	case "":
		return nil, errors.New("a definition document is required, use -f")
	case "-":
		return io.ReadAll(stdin)
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", file)
		}
		return data, nil
	}
}
