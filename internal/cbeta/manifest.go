package cbeta

import "github.com/olgasafonova/cbeta-mcp-server/internal/registry"

// Units returns the built-in tool units in registration order.
func (c *Client) Units() []registry.Unit {
	return []registry.Unit{
		registry.NewUnit("cbeta/catalog/get_catalog", c.registerGetCatalog),
		registry.NewUnit("cbeta/catalog/search_by_dynasty", c.registerSearchByDynasty),
		registry.NewUnit("cbeta/catalog/search_by_translator", c.registerSearchByTranslator),
		registry.NewUnit("cbeta/catalog/search_by_vol", c.registerSearchByVolume),
		registry.NewUnit("cbeta/catalog/search_texts", c.registerSearchTexts),

		registry.NewUnit("cbeta/search/all_in_one", c.registerAllInOne),
		registry.NewUnit("cbeta/search/extended_search", c.registerExtendedSearch),
		registry.NewUnit("cbeta/search/facet_query", c.registerFacetQuery),
		registry.NewUnit("cbeta/search/fulltext_search", c.registerFulltextSearch),
		registry.NewUnit("cbeta/search/kwic_search", c.registerKWICSearch),
		registry.NewUnit("cbeta/search/search_notes", c.registerSearchNotes),
		registry.NewUnit("cbeta/search/search_sc", c.registerSearchSC),
		registry.NewUnit("cbeta/search/search_title", c.registerSearchTitle),
		registry.NewUnit("cbeta/search/similar_search", c.registerSimilarSearch),
		registry.NewUnit("cbeta/search/synonym_search", c.registerSynonymSearch),

		registry.NewUnit("cbeta/work/get_juan_html", c.registerJuanHTML),
		registry.NewUnit("cbeta/work/get_lines", c.registerLines),
		registry.NewUnit("cbeta/work/get_toc", c.registerTOC),
		registry.NewUnit("cbeta/work/get_work_info", c.registerWorkInfo),
		registry.NewUnit("cbeta/work/goto", c.registerGoto),
	}
}
