package chain

import (
	"fmt"

	"chainweaver/internal/attr"
	"chainweaver/internal/registry"
)

// Variant is an attributed set of artifacts produced by a component.
type Variant struct {
	Name      string
	Component string

	// Project is the owning project path; empty for external components.
	Project    string
	ProjectDir string

	Attributes *attr.Set
	Artifacts  []string
}

func (v *Variant) String() string {
	if v.Component == "" {
		return v.Name
	}
	return v.Component + ":" + v.Name
}

// TransformedVariant is a source variant together with the chain that makes
// it match a request. A nil Chain means the source matched directly.
type TransformedVariant struct {
	Source     *Variant
	Chain      *Link
	Attributes *attr.Set
}

// Steps returns the chain's definitions in application order.
func (tv *TransformedVariant) Steps() []*registry.Definition { return tv.Chain.Steps() }

func (tv *TransformedVariant) IsDirect() bool { return tv.Chain == nil }

func (tv *TransformedVariant) String() string {
	return fmt.Sprintf("%s via %s => %s", tv.Source, tv.Chain, tv.Attributes)
}
