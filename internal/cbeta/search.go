package cbeta

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/olgasafonova/cbeta-mcp-server/internal/base"
	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
)

const categorySearch = "search"

// similarTimeout is the upstream deadline for similarity search, which runs
// a sequence alignment on the server.
const similarTimeout = 30 * time.Second

// minTitleQuery is the shortest title query, in characters, the API accepts.
const minTitleQuery = 3

// FacetTypes are the dimensions accepted by cbeta_facet_query.
var FacetTypes = []string{"canon", "category", "dynasty", "creator", "work"}

var (
	paramFields = optionalString("fields", "Fields to return, e.g. 'work,juan,term_hits'", "指定回傳欄位，如 'work,juan,term_hits'")
	paramFacet  = intDefault("facet", 0, "Return facets: 0=no, 1=yes", "是否回傳 facet：0=否，1=是")
	paramCache  = intDefault("cache", 1, "Use the server cache: 1=yes", "是否使用快取：1=是")
	paramAround = intDefault("around", 10, "Characters of context around each hit", "關鍵字前後文字數")
	paramNote   = intDefault("note", 1, "Include interlinear notes: 0=no, 1=yes", "是否含夾注：0=不含，1=含")
)

// quoteQuery percent-encodes q the way the extended search endpoint expects:
// everything except unreserved characters and '/' is escaped, spaces as %20.
// The result is encoded again as a query parameter.
func quoteQuery(q string) string {
	s := url.QueryEscape(q)
	s = strings.ReplaceAll(s, "+", "%20")
	return strings.ReplaceAll(s, "%2F", "/")
}

func (c *Client) registerFulltextSearch(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "cbeta_fulltext_search",
		Title:    "Full-Text Search",
		Category: categorySearch,
		Description: text(
			"Full-text search across the CBETA corpus. Returns num_found and per-fascicle hits with work ID, title, fascicle, term_hits, byline and dynasty. Use rows and start to page, order to sort (e.g. 'time_from-').",
			"CBETA 全文檢索，回傳 num_found 及各卷命中結果，含佛典編號、經名、卷數、term_hits、作譯者與朝代。以 rows、start 分頁，order 排序（如 'time_from-'）。"),
		Params: []registry.Param{
			requiredString("q", "Keyword, e.g. '法鼓' or '般若波羅蜜'", "搜尋關鍵字，如 '法鼓'、'般若波羅蜜'"),
			paramFields,
			paramRows,
			paramStart,
			paramOrder,
		},
		Example: map[string]any{"q": "法鼓", "rows": 5},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			q := args.Values("q", "rows", "start")
			setTruthy(q, args, "fields", "order")
			return c.Do(ctx, Call{
				Path:  "/search",
				Query: q,
				Label: text("CBETA search failed", "CBETA 搜尋失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerExtendedSearch(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "extended_search",
		Title:    "Extended Full-Text Search",
		Category: categorySearch,
		Description: text(
			`Full-text search with boolean syntax. AND: quote each term separated by spaces ("法鼓" "聖嚴"). OR: "波羅蜜" | "波羅密". NOT: "迦葉" !"迦葉佛". NEAR: "法鼓" NEAR/7 "迦葉". Returns total and rows of {title, juan, content}.`,
			`擴充模式全文檢索，支援 AND（每個詞加雙引號以空格分隔，如 "法鼓" "聖嚴"）、OR（"波羅蜜" | "波羅密"）、NOT（"迦葉" !"迦葉佛"）與 NEAR（"法鼓" NEAR/7 "迦葉"）。回傳 total 與 rows，各筆含 title、juan、content。`),
		Params: []registry.Param{
			requiredString("q", `Query, e.g. '"法鼓" "聖嚴"'`, `查詢語句，支援 AND/OR/NOT/NEAR 語法，如 '"法鼓" "聖嚴"'`),
			paramStart,
			paramRows,
		},
		Example: map[string]any{"q": `"般若" "波羅蜜"`, "rows": 5},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			q := args.Values("start", "rows")
			q.Set("q", quoteQuery(args.String("q")))
			return c.Do(ctx, Call{
				Path:  "/search/extended",
				Query: q,
				Label: text("CBETA extended search failed", "CBETA 擴充搜尋失敗"),
				Reshape: func(resp *base.Response) (any, error) {
					data, err := Object(resp)
					if err != nil {
						return nil, err
					}
					results := list(data, "results")
					rows := make([]any, 0, len(results))
					for _, r := range results {
						row, _ := r.(map[string]any)
						rows = append(rows, map[string]any{
							"title":   getOr(row, "title", ""),
							"juan":    getOr(row, "juan", ""),
							"content": getOr(row, "content", ""),
						})
					}
					return map[string]any{
						"total": getOr(data, "total", 0),
						"rows":  rows,
					}, nil
				},
			})
		},
	}))
	return nil
}

func (c *Client) registerSynonymSearch(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "synonym_search",
		Title:    "Synonym Search",
		Category: categorySearch,
		Description: text(
			"Look up synonyms and alternate names of a Buddhist term, e.g. '文殊師利' or '觀世音'. Returns the list of related terms known to CBETA.",
			"查詢佛學詞彙的近義詞與異名，如 '文殊師利'、'觀世音'，回傳 CBETA 收錄的相關詞彙。"),
		Params: []registry.Param{
			requiredString("q", "Term, e.g. '文殊師利'", "查詢關鍵詞，如 '文殊師利'、'觀世音'"),
		},
		Example: map[string]any{"q": "文殊師利"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			return c.Do(ctx, Call{
				Path:  "/search/synonym",
				Query: args.Values("q"),
				Label: text("Synonym search failed", "近義詞搜索失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerSearchSC(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "cbeta_search_sc",
		Title:    "Simplified/Traditional Search",
		Category: categorySearch,
		Description: text(
			"Full-text search accepting simplified or traditional Chinese, e.g. '四圣谛' or '四聖諦'. Returns the query and the number of hits.",
			"支援簡體或繁體輸入的全文檢索，如 '四圣谛' 或 '四聖諦'，回傳查詢字串與命中數。"),
		Params: []registry.Param{
			requiredString("q", "Keyword in simplified or traditional Chinese", "搜尋關鍵字，支持簡體或繁體，如 '四圣谛' 或 '四聖諦'"),
			paramFields,
			intDefault("rows", 10, "Number of results to return", "回傳筆數"),
			paramStart,
			paramOrder,
		},
		Example: map[string]any{"q": "四圣谛"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			query := args.String("q")
			q := args.Values("q", "rows", "start")
			setTruthy(q, args, "fields", "order")
			return c.Do(ctx, Call{
				Path:  "/search/sc",
				Query: q,
				Label: text("CBETA SC search failed", "CBETA SC 搜尋失敗"),
				Reshape: func(resp *base.Response) (any, error) {
					data, err := Object(resp)
					if err != nil {
						return nil, err
					}
					return map[string]any{
						"q":    query,
						"hits": getOr(data, "hits", 0),
					}, nil
				},
			})
		},
	}))
	return nil
}

func (c *Client) registerFacetQuery(col *registry.Collector) error {
	facet := optionalString("f", "Facet type; omit for all five", "指定 facet 類型，不指定則返回全部")
	facet.Enum = FacetTypes

	col.Add(lookup(registry.Tool{
		Name:     "cbeta_facet_query",
		Title:    "Facet Counts",
		Category: categorySearch,
		Description: text(
			"Count how the hits for a query are distributed over canon, category, dynasty, creator and work. Pass f to return a single dimension.",
			"統計查詢結果在藏經、部類、朝代、作譯者與佛典等維度的分布；指定 f 則只返回該維度。"),
		Params: []registry.Param{
			requiredString("q", "Keyword, e.g. '法鼓'", "查詢關鍵字，如 '法鼓'、'般若'"),
			facet,
		},
		Example: map[string]any{"q": "法鼓", "f": "canon"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			path := "/search/facet"
			if args.Has("f") {
				path += "/" + args.String("f")
			}
			return c.Do(ctx, Call{
				Path:  path,
				Query: args.Values("q"),
				Label: text("CBETA facet query failed", "CBETA facet 查詢失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerAllInOne(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "cbeta_all_in_one",
		Title:    "All-in-One Search",
		Category: categorySearch,
		Description: text(
			"Combined search returning per-fascicle hits with KWIC context and optional facets in one call. Supports AND/OR/NOT/NEAR syntax.",
			"整合檢索，一次回傳各卷命中結果、KWIC 前後文與可選的 facet 統計，支援 AND/OR/NOT/NEAR 語法。"),
		Params: []registry.Param{
			requiredString("q", "Query, supports AND/OR/NOT/NEAR", "查詢關鍵字，支援 AND/OR/NOT/NEAR 語法"),
			paramNote,
			paramFields,
			paramFacet,
			paramRows,
			paramStart,
			paramAround,
			optionalString("order", "Sort order, e.g. 'time_from+' or 'time_from-'", "排序條件，如 'time_from+' 升序，'time_from-' 降序"),
			paramCache,
		},
		Example: map[string]any{"q": "法鼓", "rows": 3},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			q := args.Values("q", "note", "facet", "rows", "start", "around", "cache")
			setTruthy(q, args, "fields", "order")
			return c.Do(ctx, Call{
				Path:  "/search/all_in_one",
				Query: q,
				Label: text("CBETA all-in-one search failed", "CBETA all-in-one 搜尋失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerSearchNotes(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "search_cbeta_notes",
		Title:    "Search Notes",
		Category: categorySearch,
		Description: text(
			`Search collation notes and annotations. Quote terms, e.g. '"法鼓"'. Supports AND/OR/NOT/NEAR syntax and returns highlighted note text with its location.`,
			`檢索校勘注與註解，關鍵詞需加雙引號，如 '"法鼓"'，支援 AND/OR/NOT/NEAR 語法，回傳高亮的注文與位置。`),
		Params: []registry.Param{
			requiredString("q", `Quoted term, e.g. '"法鼓"'`, `查詢關鍵詞，需加雙引號，如 '"法鼓"'`),
			paramAround,
			paramRows,
			paramStart,
			paramFacet,
		},
		Example: map[string]any{"q": `"法鼓"`, "rows": 5},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			return c.Do(ctx, Call{
				Path:  "/search/notes",
				Query: args.Values("q", "around", "rows", "start", "facet"),
				Label: text("CBETA notes search failed", "CBETA notes 搜尋失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerSearchTitle(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "search_title",
		Title:    "Search Titles",
		Category: categorySearch,
		Description: text(
			"Search work titles. The keyword must be at least three characters, e.g. '觀無量壽經' or '法華經'.",
			"搜尋經名，關鍵字至少三個字，如 '觀無量壽經'、'法華經'。"),
		Params: []registry.Param{
			requiredString("q", "Title keyword of at least three characters", "搜尋經名關鍵字，至少三個字，如 '觀無量壽經'、'法華經'"),
			paramRows,
			paramStart,
		},
		Example: map[string]any{"q": "法華經"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			if utf8.RuneCountInString(strings.TrimSpace(args.String("q"))) < minTitleQuery {
				return c.Reject(text(
					"Search keyword must be at least 3 characters",
					"搜尋關鍵字至少需三個字以上"))
			}
			return c.Do(ctx, Call{
				Path:  "/search/title",
				Query: args.Values("q", "rows", "start"),
				Label: text("Title search failed", "標題搜尋失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerKWICSearch(col *registry.Collector) error {
	sort := registry.Param{
		Name:        "sort",
		Type:        registry.TypeString,
		Default:     "f",
		Enum:        []string{"f", "b", "location"},
		Description: text("Sort: 'f' after the keyword, 'b' before, 'location' by position", "排序：'f'=關鍵詞後排序，'b'=前排序，'location'=依出現位置"),
	}

	col.Add(lookup(registry.Tool{
		Name:     "cbeta_kwic_search",
		Title:    "Keyword in Context",
		Category: categorySearch,
		Description: text(
			"Keyword-in-context search within one fascicle of one work. Supports NEAR and exclusion syntax, note inclusion and highlight marks. Returns num_found and hits with volume, line and context.",
			"單卷 KWIC 前後文檢索，支援 NEAR 查詢、排除詞、夾注開關與 mark 標記，回傳 num_found 及各筆冊號、行標與前後文。"),
		Params: []registry.Param{
			paramWork,
			requiredInt("juan", "Fascicle number", "卷號"),
			requiredString("q", "Keyword, may use NEAR and exclusion syntax", "查詢關鍵詞，可含 NEAR、排除詞等語法"),
			paramNote,
			intDefault("mark", 0, "Wrap hits in <mark>: 0=no, 1=yes", "是否加 mark 標記：0=不加，1=加"),
			sort,
		},
		Example: map[string]any{"work": "T0001", "juan": 1, "q": "老子"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			return c.Do(ctx, Call{
				Path:  "/search/kwic",
				Query: args.Values("work", "juan", "q", "note", "mark", "sort"),
				Label: text("CBETA KWIC search failed", "CBETA KWIC 搜尋失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerSimilarSearch(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "cbeta_similar_search",
		Title:    "Similar Passages",
		Category: categorySearch,
		Description: text(
			"Find passages similar to a sentence using Smith-Waterman alignment, e.g. to locate parallel translations. Pass 6-50 characters without punctuation. Returns num_found and scored passages.",
			"以 Smith-Waterman 局部比對演算法搜尋相似經文段落，適合查找異譯本。建議輸入 6-50 字且不含標點，回傳 num_found 與附分數的段落。"),
		Params: []registry.Param{
			requiredString("q", "Sentence without punctuation, 6-50 characters", "要搜尋的句子內容（不含標點），建議 6-50 字"),
			intDefault("k", 500, "Number of initial candidates", "取回前 k 筆初始結果"),
			intDefault("gain", 2, "Alignment match score", "比對演算法 match 加分"),
			intDefault("penalty", -1, "Alignment mismatch score", "比對演算法 miss 扣分"),
			intDefault("score_min", 16, "Minimum alignment score", "最低匹配分數"),
			paramFacet,
			paramCache,
		},
		Example: map[string]any{"q": "如是我聞一時佛在舍衛國"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			return c.Do(ctx, Call{
				Path:    "/search/similar",
				Query:   args.Values("q", "k", "gain", "penalty", "score_min", "facet", "cache"),
				Timeout: c.timeout(similarTimeout),
				Label:   text("CBETA similar search failed", "CBETA 相似搜尋失敗"),
			})
		},
	}))
	return nil
}
