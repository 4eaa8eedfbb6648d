package engine

// FacetHandler describes an index-time facet exposed by an engine.
type FacetHandler interface {
	Name() string
}

// RuntimeFacetHandlerFactory describes a facet built at query time.
type RuntimeFacetHandlerFactory interface {
	Name() string
}

// Decoration is the facet metadata an engine flavor exposes for query-time use.
// Either list may be empty.
type Decoration struct {
	FacetHandlers                []FacetHandler
	RuntimeFacetHandlerFactories []RuntimeFacetHandlerFactory
}

// Facet is a named facet descriptor. It satisfies both FacetHandler and
// RuntimeFacetHandlerFactory.
type Facet string

// Name returns the facet name.
func (f Facet) Name() string { return string(f) }

// NewDecoration builds a Decoration from facet names.
func NewDecoration(facets []string, runtimeFacets []string) Decoration {
	d := Decoration{}
	for _, name := range facets {
		d.FacetHandlers = append(d.FacetHandlers, Facet(name))
	}
	for _, name := range runtimeFacets {
		d.RuntimeFacetHandlerFactories = append(d.RuntimeFacetHandlerFactories, Facet(name))
	}
	return d
}
