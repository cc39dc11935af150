package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"chainweaver/internal/coordinator"
)

type applied struct {
	component string
	result    *coordinator.Result
}

func newTransformCommand() *cobra.Command {
	var flags selectFlags
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Select and execute the transform chain for each component",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			requested, err := parseRequest(flags.request)
			if err != nil {
				return err
			}
			s, err := openSession(configFrom(cmd.Context()), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.Close()) }()
			ctx := s.context(cmd.Context())

			components, err := s.components(flags.components)
			if err != nil {
				return err
			}
			selected, err := s.selectAll(components, requested)
			if err != nil {
				return err
			}
			if err := s.prepareExecution(ctx); err != nil {
				return err
			}

			var results []applied
			var errs []error
			for _, sel := range selected {
				res, err := s.coord.Apply(ctx, sel.variant)
				results = append(results, applied{component: sel.component, result: res})
				if err != nil {
					errs = append(errs, fmt.Errorf("component %s: %w", sel.component, err))
				}
			}
			renderResults(cmd.OutOrStdout(), results)
			return errors.Join(errs...)
		},
	}
	flags.register(cmd)
	return cmd
}

func renderResults(w io.Writer, results []applied) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Component", "Input", "Output", "Cached"})
	for _, r := range results {
		for _, a := range r.result.Artifacts {
			if a.Err != nil {
				t.AppendRow(table.Row{r.component, a.Input, "FAILED: " + a.Err.Error(), ""})
				continue
			}
			if len(a.Files) == 0 {
				t.AppendRow(table.Row{r.component, a.Input, "(no outputs)", a.FromCache})
			}
			for _, f := range a.Files {
				t.AppendRow(table.Row{r.component, a.Input, f, a.FromCache})
			}
		}
	}
	t.Render()
}
