package cmd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/naming"
)

func newSelectorCommand() *cobra.Command {
	selector := &cobra.Command{
		Use:   "selector",
		Short: "Work with label selectors",
	}

	selector.AddCommand(&cobra.Command{
		Use:   "parse <selectors>",
		Short: "Parse a selector list and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selectors, err := labels.ParseList(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, selectors.String())
			for _, s := range selectors {
				fmt.Fprintf(out, "  %s %s %s\n", s.Key(), s.Operator(), describeValues(s))
			}
			return nil
		},
	})

	var labelSet string
	match := &cobra.Command{
		Use:   "match <selectors>",
		Short: "Report whether a label set satisfies a selector list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selectors, err := labels.ParseList(args[0])
			if err != nil {
				return err
			}
			set, err := parseLabelSet(naming.Default(), labelSet)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), selectors.Matches(set))
			return nil
		},
	}
	match.Flags().StringVarP(&labelSet, "labels", "l", "", "Comma separated key=value pairs to match against")
	selector.AddCommand(match)

	return selector
}

func describeValues(s labels.Selector) string {
	switch s.Operator() {
	case labels.Equals, labels.NotEquals:
		return s.Value()
	default:
		return "(" + strings.Join(s.Values(), ",") + ")"
	}
}

// parseLabelSet reads "k1=v1,k2=v2". Keys must be valid label keys.
func parseLabelSet(conv *naming.Convention, input string) (map[string]string, error) {
	set := map[string]string{}
	if strings.TrimSpace(input) == "" {
		return set, nil
	}
	for _, pair := range strings.Split(input, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, errors.Errorf("label %q is not a key=value pair", pair)
		}
		if err := conv.CheckLabelKey(key); err != nil {
			return nil, err
		}
		if _, dup := set[key]; dup {
			return nil, errors.Errorf("label %q is given more than once", key)
		}
		set[key] = value
	}
	return set, nil
}
