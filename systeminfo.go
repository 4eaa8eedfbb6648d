package sensei

import (
	"github.com/hothotzd123/sensei/version"
)

// FacetInfo describes a facet exposed by the engines of this node.
type FacetInfo struct {
	Name string `json:"name"`
	// Runtime marks facets built at query time.
	Runtime bool `json:"runtime"`
}

// SystemInfo is a point-in-time summary of the node.
type SystemInfo struct {
	FacetInfos []FacetInfo `json:"facetInfos"`
	// Version is the greatest current version across the started engines,
	// or "" when none is started.
	Version string `json:"version"`
	// LastModified is reserved. Engines report no reliable modification
	// time, so it is always 0.
	LastModified int64 `json:"lastModified"`
}

// SystemInfo returns the node summary. Facet metadata is computed once from
// the factory decoration; the version is recomputed on every call.
func (c *Core) SystemInfo() SystemInfo {
	c.facetsOnce.Do(func() {
		d := c.factory.Decoration()
		facets := make([]FacetInfo, 0, len(d.FacetHandlers)+len(d.RuntimeFacetHandlerFactories))
		for _, h := range d.FacetHandlers {
			facets = append(facets, FacetInfo{Name: h.Name()})
		}
		for _, f := range d.RuntimeFacetHandlerFactories {
			facets = append(facets, FacetInfo{Name: f.Name(), Runtime: true})
		}
		c.facets = facets
	})

	info := SystemInfo{FacetInfos: make([]FacetInfo, len(c.facets))}
	copy(info.FacetInfos, c.facets)

	engines := c.Engines()
	versions := make([]string, len(engines))
	for i, e := range engines {
		versions[i] = e.CurrentVersion()
	}
	info.Version = version.Max(c.factory.VersionOrdering(), versions...)
	return info
}
