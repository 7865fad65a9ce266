package cbeta

import (
	"context"
	"net/url"

	"github.com/olgasafonova/cbeta-mcp-server/internal/base"
	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
)

const categoryCatalog = "catalog"

func (c *Client) registerGetCatalog(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "get_cbeta_catalog",
		Title:    "CBETA Catalog",
		Category: categoryCatalog,
		Description: text(
			"Browse the CBETA catalog tree. Pass a catalog node ID (e.g. 'CBETA', 'CBETA.001', 'orig') and receive its child nodes: each with a node ID, label, and for leaves the work ID and fascicle.",
			"瀏覽 CBETA 目錄樹。傳入目錄節點 ID（如 'CBETA'、'CBETA.001'、'orig'），回傳其下層節點，含節點 ID、名稱，以及葉節點的佛典編號與卷數。"),
		Params: []registry.Param{
			requiredString("q", "Catalog node ID, e.g. 'CBETA.001'", "目錄節點 ID，如 'CBETA.001'"),
		},
		Example: map[string]any{"q": "CBETA.001"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			return c.Do(ctx, Call{
				Path:  "/catalog_entry",
				Query: args.Values("q"),
				Label: text("CBETA API request failed", "CBETA API 請求失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerSearchTexts(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "search_cbeta_texts",
		Title:    "Search Table of Contents",
		Category: categoryCatalog,
		Description: text(
			"Search CBETA titles and tables of contents by keyword. Returns matching works and chapter headings with their work IDs and line heads.",
			"依關鍵字搜尋 CBETA 經名與目次，回傳符合的佛典與章節標題，含佛典編號與行首資訊。"),
		Params: []registry.Param{
			requiredString("q", "Keyword, e.g. '法華'", "搜尋關鍵字，如 '法華'"),
		},
		Example: map[string]any{"q": "法華"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			return c.Do(ctx, Call{
				Path:  "/search/toc",
				Query: args.Values("q"),
				Label: text("CBETA search failed", "CBETA 搜尋失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerSearchByVolume(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "search_buddhist_canons_by_vol",
		Title:    "Works by Canon Volume",
		Category: categoryCatalog,
		Description: text(
			"List the works contained in a range of volumes of one canon, e.g. Taishō volumes 1-2. Returns num_found and the works with title, volume, fascicle count, byline and dynasty.",
			"依藏經 ID 與冊數起迄範圍，列出該範圍內的佛典，回傳 num_found 以及各佛典的經名、冊別、卷數、作譯者與朝代。"),
		Params: []registry.Param{
			requiredString("canon", "Canon ID: 'T' (Taishō), 'X' (Xuzangjing), 'J' (Jiaxing)", "藏經 ID，如 'T'（大正藏）、'X'（卍續藏）、'J'（嘉興藏）"),
			requiredInt("vol_start", "First volume", "開始冊數"),
			requiredInt("vol_end", "Last volume", "結束冊數"),
		},
		Example: map[string]any{"canon": "T", "vol_start": 1, "vol_end": 2},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			return c.Do(ctx, Call{
				Path:  "/works",
				Query: args.Values("canon", "vol_start", "vol_end"),
				Label: text("API request failed", "API 請求失敗"),
				Reshape: func(resp *base.Response) (any, error) {
					data, err := Object(resp)
					if err != nil {
						return nil, err
					}
					return map[string]any{
						"num_found": data["num_found"],
						"results":   list(data, "results"),
					}, nil
				},
			})
		},
	}))
	return nil
}

func (c *Client) registerSearchByTranslator(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "search_works_by_translator",
		Title:    "Works by Author or Translator",
		Category: categoryCatalog,
		Description: text(
			"Find works by author or translator. Provide one of creator_id (exact, e.g. 'A000294' for Xuanzang), creator (fuzzy name match) or creator_name (names without an assigned ID). When several are given, creator_id wins, then creator.",
			"依作譯者搜尋佛典。提供 creator_id（精確，如玄奘 'A000294'）、creator（姓名模糊搜尋）或 creator_name（尚未確認 ID 的姓名）其中之一；同時提供時以 creator_id 優先，其次 creator。"),
		Params: []registry.Param{
			optionalString("creator_id", "Creator ID, e.g. 'A000294'", "作譯者 ID，如 'A000294'"),
			optionalString("creator", "Creator name, fuzzy match, e.g. '玄奘'", "作譯者姓名模糊搜尋，如 '玄奘'、'鳩摩羅什'"),
			optionalString("creator_name", "Name of a creator without an ID", "僅搜尋尚未確認 ID 的譯者姓名"),
		},
		Example: map[string]any{"creator": "玄奘"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			q := url.Values{}
			switch {
			case args.Has("creator_id"):
				q.Set("creator_id", args.String("creator_id"))
			case args.Has("creator"):
				q.Set("creator", args.String("creator"))
			case args.Has("creator_name"):
				q.Set("creator_name", args.String("creator_name"))
			default:
				return c.Reject(text(
					"Please provide at least one parameter: creator_id, creator, or creator_name",
					"請至少提供一個搜尋參數：creator_id、creator 或 creator_name"))
			}
			return c.Do(ctx, Call{
				Path:  "/works",
				Query: q,
				Label: text("Query failed", "查詢失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerSearchByDynasty(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "search_cbeta_by_dynasty",
		Title:    "Works by Dynasty or Period",
		Category: categoryCatalog,
		Description: text(
			"Find works by dynasty name (comma-separated for several, e.g. '唐,宋') or by a range of CE years using time_start and time_end. Returns num_found and a sample of the first 10 works.",
			"依朝代名稱（多個朝代以逗號分隔，如 '唐,宋'）或公元年範圍 time_start、time_end 搜尋佛典，回傳 num_found 及前 10 筆樣本。"),
		Params: []registry.Param{
			optionalString("dynasty", "Dynasty name(s), e.g. '唐' or '唐,宋'", "朝代名稱，多個朝代用逗號分隔，如 '唐'、'唐,宋'"),
			optionalInt("time_start", "First CE year, e.g. 600", "起始年份（公元），如 600"),
			optionalInt("time_end", "Last CE year, e.g. 900", "結束年份（公元），如 900"),
		},
		Example: map[string]any{"dynasty": "唐"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			if !args.Has("dynasty") && !(args.Has("time_start") && args.Has("time_end")) {
				return c.Reject(text(
					"Please provide dynasty or time_start and time_end parameters",
					"請提供 dynasty 或 time_start 與 time_end 參數"))
			}

			q := url.Values{}
			setTruthy(q, args, "dynasty", "time_start", "time_end")
			return c.Do(ctx, Call{
				Path:  "/works",
				Query: q,
				Label: text("CBETA query failed", "CBETA 查詢失敗"),
				Reshape: func(resp *base.Response) (any, error) {
					data, err := Object(resp)
					if err != nil {
						return nil, err
					}
					results := list(data, "results")
					if len(results) > 10 {
						results = results[:10]
					}
					return map[string]any{
						"num_found":     getOr(data, "num_found", 0),
						"sample_result": results,
					}, nil
				},
			})
		},
	}))
	return nil
}
