package cbeta

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/olgasafonova/cbeta-mcp-server/internal/base"
	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	"github.com/olgasafonova/cbeta-mcp-server/internal/registry"
)

const categoryWork = "work"

const juanTimeout = 30 * time.Second

// workInfoFields are copied from the first /works result.
var workInfoFields = []string{
	"work", "title", "byline", "creators", "category", "orig_category",
	"time_dynasty", "time_from", "time_to", "cjk_chars", "en_words",
	"file", "juan_start", "places",
}

func (c *Client) registerWorkInfo(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "get_cbeta_work_info",
		Title:    "Work Information",
		Category: categoryWork,
		Description: text(
			"Get the details of one work by ID: title, byline, creators, category, dynasty and years, character counts, source file, first fascicle and associated places.",
			"依佛典編號取得佛典詳細資訊，包括標題、作譯者、分類、朝代與年代、字數、檔案、起始卷與相關地點。"),
		Params:  []registry.Param{paramWork},
		Example: map[string]any{"work": "T1501"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			work := args.String("work")
			return c.Do(ctx, Call{
				Path:  "/works",
				Query: url.Values{"work": {work}},
				Label: text("Failed to get scripture info", "取得佛典資料失敗"),
				Reshape: func(resp *base.Response) (any, error) {
					data, err := Object(resp)
					if err != nil {
						return nil, err
					}
					results := list(data, "results")
					if fmt.Sprint(getOr(data, "num_found", 0)) == "0" || len(results) == 0 {
						return nil, reject(text("Scripture not found: "+work, "查無佛典："+work))
					}
					first, _ := results[0].(map[string]any)
					return pick(first, workInfoFields...), nil
				},
			})
		},
	}))
	return nil
}

func (c *Client) registerTOC(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "get_cbeta_toc",
		Title:    "Table of Contents",
		Category: categoryWork,
		Description: text(
			"Get the table of contents of a work: the nested chapter tree (mulu) with titles, types, fascicles and line positions.",
			"取得指定佛典的目次結構，包含巢狀章節樹（mulu）及各節的標題、類型、卷數與行位置。"),
		Params:  []registry.Param{paramWork},
		Example: map[string]any{"work": "T0001"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			return c.Do(ctx, Call{
				Path:  "/toc",
				Query: args.Values("work"),
				Label: text("Failed to get CBETA TOC", "取得 CBETA 目次失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerJuanHTML(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "get_juan_html",
		Title:    "Fascicle HTML",
		Category: categoryWork,
		Description: text(
			"Fetch the HTML text of one fascicle of a work. Optionally include the work information and the table of contents in the same response.",
			"抓取指定佛典指定卷的 HTML 內容，可選擇同時回傳佛典資訊與目次。"),
		Params: []registry.Param{
			paramWork,
			requiredInt("juan", "Fascicle number, starting at 1", "卷號，從 1 開始"),
			intDefault("work_info", 0, "Include work information: 0=no, 1=yes", "是否回傳佛典資訊：0=否，1=是"),
			intDefault("toc", 0, "Include the table of contents: 0=no, 1=yes", "是否回傳目次：0=否，1=是"),
		},
		Example: map[string]any{"work": "T0001", "juan": 1},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			return c.Do(ctx, Call{
				Path:    "/juans",
				Query:   args.Values("work", "juan", "work_info", "toc"),
				Timeout: c.timeout(juanTimeout),
				Label:   text("CBETA API request failed", "CBETA API 請求失敗"),
			})
		},
	}))
	return nil
}

func (c *Client) registerGoto(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "cbeta_goto",
		Title:    "Go To Location",
		Category: categoryWork,
		Description: text(
			"Resolve a location to its CBETA Online reading URL. Use a linehead reference (e.g. 'T01n0001_p0066c25'), canon + work with optional juan/page/col/line, or canon + vol with optional page/col/line. A linehead overrides everything else.",
			"將經文位置轉為 CBETA Online 閱讀網址。可用行首引用（如 'T01n0001_p0066c25'）、藏經 + 經號（可加卷/頁/欄/行），或藏經 + 冊數（可加頁/欄/行）。提供 linehead 時忽略其他參數。"),
		Params: []registry.Param{
			optionalString("canon", "Canon ID, e.g. 'T', 'X', 'N'", "藏經編號，如 'T'（大正藏）、'X'（卍續藏）、'N'（南傳）"),
			optionalString("work", "Work number within the canon, e.g. '1' or '150A'", "經號，如 '1'、'2'、'150A'"),
			optionalInt("juan", "Fascicle", "卷數"),
			optionalInt("vol", "Volume", "冊數"),
			optionalInt("page", "Page", "頁碼"),
			optionalString("col", "Column: 'a', 'b' or 'c'", "欄位：'a'、'b'、'c'"),
			optionalInt("line", "Line", "行數"),
			optionalString("linehead", "Line reference, e.g. 'T01n0001_p0066c25'", "行首引用，如 'T01n0001_p0066c25'（優先使用）"),
		},
		Example: map[string]any{"linehead": "T01n0001_p0066c25"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			var q url.Values
			if args.Has("linehead") {
				q = url.Values{"linehead": {args.String("linehead")}}
			} else {
				q = args.Values("juan", "vol", "page", "line")
				setTruthy(q, args, "canon", "work", "col")
			}
			return c.Do(ctx, Call{
				Path:  "/juans/goto",
				Query: q,
				Label: text("CBETA navigation failed", "CBETA 跳轉失敗"),
				Reshape: func(resp *base.Response) (any, error) {
					return map[string]any{"url": resp.URL}, nil
				},
			})
		},
	}))
	return nil
}

func (c *Client) registerLines(col *registry.Collector) error {
	col.Add(lookup(registry.Tool{
		Name:     "get_cbeta_lines",
		Title:    "Lines by Linehead",
		Category: categoryWork,
		Description: text(
			"Fetch the text of lines, with notes, by linehead. Use linehead for a single line, linehead_start and linehead_end for a range, or linehead with before/after for surrounding context. A linehead like T01n0001_p0001a04 reads as Taishō vol. 1, work 1, page 1, column a, line 4.",
			"依行首資訊取得經文行文字（含註解）。單行用 linehead，範圍用 linehead_start 與 linehead_end，上下文用 linehead 加 before/after。行首格式 T01n0001_p0001a04 表示大正藏第1冊第1經第1頁a欄第4行。"),
		Params: []registry.Param{
			optionalString("linehead", "Single line, e.g. 'T01n0001_p0001a04'", "指定單行行號，如 'T01n0001_p0001a04'"),
			optionalString("linehead_start", "First line of a range", "行段起始行號"),
			optionalString("linehead_end", "Last line of a range", "行段結束行號"),
			optionalInt("before", "Extra lines before linehead", "額外取得前幾行（搭配 linehead 使用）"),
			optionalInt("after", "Extra lines after linehead", "額外取得後幾行（搭配 linehead 使用）"),
		},
		Example: map[string]any{"linehead": "T01n0001_p0001a04"},
		Handler: func(ctx context.Context, args registry.Args) envelope.Envelope {
			if !args.Has("linehead") && !args.Has("linehead_start") {
				return c.Reject(text(
					"Please provide linehead or linehead_start",
					"請提供 linehead 或 linehead_start 參數"))
			}

			q := args.Values("before", "after")
			setTruthy(q, args, "linehead", "linehead_start", "linehead_end")
			return c.Do(ctx, Call{
				Path:  "/lines",
				Query: q,
				Label: text("CBETA line fetch failed", "CBETA 行文擷取失敗"),
			})
		},
	}))
	return nil
}
