package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"chainweaver/internal/attr"
	"chainweaver/internal/chain"
)

type selectFlags struct {
	request    []string
	components []string
}

func (f *selectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.request, "request", "r", nil, "requested attributes as name=value pairs")
	cmd.Flags().StringSliceVarP(&f.components, "component", "c", nil, "components to resolve (default: all)")
}

// selection is the chosen variant of one component.
type selection struct {
	component string
	variant   *chain.TransformedVariant
}

func newResolveCommand() *cobra.Command {
	var flags selectFlags
	var explain bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show the transform chain selected for each component",
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

			components, err := s.components(flags.components)
			if err != nil {
				return err
			}
			if explain {
				renderCandidates(cmd.OutOrStdout(), s, components, requested)
				return nil
			}
			selected, err := s.selectAll(components, requested)
			renderSelections(cmd.OutOrStdout(), selected)
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&explain, "explain", false, "list every candidate chain instead of selecting one")
	return cmd
}

func (s *session) components(names []string) ([]Component, error) {
	if len(names) == 0 {
		return s.model.Components, nil
	}
	out := make([]Component, 0, len(names))
	for _, name := range names {
		c, ok := s.model.Component(name)
		if !ok {
			return nil, invalidInvocationf("unknown component %q (known: %s)", name, strings.Join(s.model.Names(), ", "))
		}
		out = append(out, c)
	}
	return out, nil
}

// selectAll selects a variant of every component. Components with no
// matching variant are skipped; any other failure stops selection.
func (s *session) selectAll(components []Component, requested *attr.Set) ([]selection, error) {
	log := s.log.With("request", requested.String())
	var out []selection
	for _, c := range components {
		tv, err := s.selector.Select(c.Variants, requested)
		if errors.Is(err, chain.ErrNoMatchFound) {
			log.Info("component not applicable", "component", c.Name)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("component %s: %w", c.Name, err)
		}
		log.Debug("selected variant", "component", c.Name, "variant", tv.Source.Name, "chain", tv.Chain.String())
		out = append(out, selection{component: c.Name, variant: tv})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for %s in any component", chain.ErrNoMatchFound, requested)
	}
	return out, nil
}

func renderSelections(w io.Writer, selected []selection) {
	if len(selected) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Component", "Variant", "Step", "Transform", "Attributes"})
	for _, sel := range selected {
		tv := sel.variant
		if tv.IsDirect() {
			t.AppendRow(table.Row{sel.component, tv.Source.Name, 0, "(direct)", tv.Attributes.String()})
			continue
		}
		for i, link := range tv.Chain.Links() {
			t.AppendRow(table.Row{sel.component, tv.Source.Name, i + 1, link.Step().Name, link.Attributes().String()})
		}
		t.AppendSeparator()
	}
	t.Render()
}

func renderCandidates(w io.Writer, s *session, components []Component, requested *attr.Set) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Component", "#", "Variant", "Chain", "Fingerprint", "Attributes"})
	for _, c := range components {
		candidates := s.selector.Explain(c.Variants, requested)
		if len(candidates) == 0 {
			t.AppendRow(table.Row{c.Name, "-", "-", "no match", "", ""})
			continue
		}
		for i, tv := range candidates {
			fp := ""
			if !tv.IsDirect() {
				fp = string(chain.FingerprintOf(tv.Chain))[:12]
			}
			t.AppendRow(table.Row{c.Name, i + 1, tv.Source.Name, tv.Chain.String(), fp, tv.Attributes.String()})
		}
	}
	t.Render()
}
