package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olgasafonova/cbeta-mcp-server/internal/envelope"
	apierrors "github.com/olgasafonova/cbeta-mcp-server/internal/errors"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, &buf
}

func constTool(name, result string) Tool {
	return Tool{
		Name: name,
		Handler: func(context.Context, Args) envelope.Envelope {
			return envelope.Success(result)
		},
	}
}

func unitWith(path string, tools ...Tool) Unit {
	return NewUnit(path, func(c *Collector) error {
		for _, t := range tools {
			c.Add(t)
		}
		return nil
	})
}

func TestDiscover_DistinctNames(t *testing.T) {
	logger, buf := newTestLogger()
	r := New(WithLogger(logger))

	report, err := r.Discover(
		unitWith("tools/a.yaml", constTool("foo", "from a")),
		unitWith("tools/b.yaml", constTool("bar", "from b")),
	)
	require.NoError(t, err)

	assert.True(t, report.Clean())
	assert.Equal(t, []string{"tools/a.yaml", "tools/b.yaml"}, report.Loaded)
	assert.Equal(t, []string{"foo", "bar"}, r.Names())
	assert.NotContains(t, buf.String(), "level=WARN")

	assert.Equal(t, envelope.Success("from a"), r.Call(context.Background(), "foo", nil))
	assert.Equal(t, envelope.Success("from b"), r.Call(context.Background(), "bar", nil))
}

func TestDiscover_DuplicateKeepsFirst(t *testing.T) {
	logger, buf := newTestLogger()
	r := New(WithLogger(logger))

	report, err := r.Discover(
		unitWith("tools/a.yaml", constTool("dup", "first")),
		unitWith("tools/b.yaml", constTool("dup", "second")),
	)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, "tools/b.yaml", report.Duplicates[0].Unit)
	assert.Equal(t, "tools/a.yaml", report.Duplicates[0].Existing)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Duplicate tool registration"))
	assert.Contains(t, out, "tool=dup")
	assert.Contains(t, out, "unit=tools/b.yaml")

	assert.Equal(t, envelope.Success("first"), r.Call(context.Background(), "dup", nil))

	tool, ok := r.Lookup("dup")
	require.True(t, ok)
	assert.Equal(t, "tools/a.yaml", tool.Unit)
}

func TestDiscover_DuplicateKeepsLast(t *testing.T) {
	logger, _ := newTestLogger()
	r := New(WithLogger(logger), WithDuplicatePolicy(KeepLast))

	_, err := r.Discover(
		unitWith("a", constTool("dup", "first"), constTool("other", "x")),
		unitWith("b", constTool("dup", "second")),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"dup", "other"}, r.Names())
	assert.Equal(t, envelope.Success("second"), r.Call(context.Background(), "dup", nil))
}

func TestDiscover_DuplicateFails(t *testing.T) {
	logger, _ := newTestLogger()
	r := New(WithLogger(logger), WithDuplicatePolicy(Fail))

	report, err := r.Discover(
		unitWith("a", constTool("dup", "first")),
		unitWith("b", constTool("dup", "second")),
		unitWith("c", constTool("dup", "third")),
	)
	require.Error(t, err)
	assert.True(t, apierrors.IsDuplicate(err))
	assert.Len(t, report.Duplicates, 2)
	assert.Contains(t, err.Error(), `"dup" in b`)
	assert.Contains(t, err.Error(), `"dup" in c`)
}

func TestDiscover_FailSoftImport(t *testing.T) {
	logger, buf := newTestLogger()
	r := New(WithLogger(logger))

	report, err := r.Discover(
		unitWith("tools/a.yaml", constTool("alpha", "a")),
		NewUnit("tools/broken.yaml", func(c *Collector) error {
			c.Add(constTool("half_registered", "never"))
			return errors.New("yaml: line 2: did not find expected key")
		}),
		unitWith("tools/c.yaml", constTool("gamma", "c")),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "gamma"}, r.Names())
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "tools/broken.yaml", report.Failed[0].Unit)
	assert.Equal(t, 1, strings.Count(buf.String(), "Tool unit failed to load"))

	_, ok := r.Lookup("half_registered")
	assert.False(t, ok, "tools of a failed unit must not be registered")
}

func TestDiscover_PanickingUnit(t *testing.T) {
	logger, buf := newTestLogger()
	r := New(WithLogger(logger))

	report, err := r.Discover(
		NewUnit("cbeta/bad", func(c *Collector) error {
			panic("nil map")
		}),
		unitWith("cbeta/good", constTool("good", "ok")),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, r.Names())
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Error(), "panic during registration")
	assert.Contains(t, buf.String(), "unit=cbeta/bad")
}

func TestDiscover_InvalidToolFailsWholeUnit(t *testing.T) {
	r := New(WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	tests := []struct {
		name string
		tool Tool
	}{
		{"bad name", constTool("1starts_with_digit", "x")},
		{"name with dash", constTool("has-dash", "x")},
		{"no handler", Tool{Name: "no_handler"}},
		{"bad param type", func() Tool {
			tl := constTool("bad_param", "x")
			tl.Params = []Param{{Name: "q", Type: "array"}}
			return tl
		}()},
		{"duplicate param", func() Tool {
			tl := constTool("dup_param", "x")
			tl.Params = []Param{{Name: "q", Type: TypeString}, {Name: "q", Type: TypeString}}
			return tl
		}()},
		{"bad default", func() Tool {
			tl := constTool("bad_default", "x")
			tl.Params = []Param{{Name: "rows", Type: TypeInteger, Default: "twenty"}}
			return tl
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := r.Discover(unitWith("unit/"+tt.name, constTool("sibling_"+strings.ReplaceAll(tt.name, " ", "_"), "s"), tt.tool))
			require.NoError(t, err)
			assert.Len(t, report.Failed, 1)
			_, ok := r.Lookup("sibling_" + strings.ReplaceAll(tt.name, " ", "_"))
			assert.False(t, ok)
		})
	}
}

func TestDiscover_ExcludesUnderscoreUnits(t *testing.T) {
	logger, _ := newTestLogger()
	r := New(WithLogger(logger))

	called := false
	report, err := r.Discover(
		NewUnit("tools/_private.yaml", func(c *Collector) error {
			called = true
			c.Add(constTool("hidden", "x"))
			return nil
		}),
		NewUnit("cbeta/_draft", func(c *Collector) error {
			called = true
			return nil
		}),
		unitWith("tools/public.yaml", constTool("visible", "y")),
	)
	require.NoError(t, err)

	assert.False(t, called, "excluded units must never be loaded")
	assert.Equal(t, []string{"tools/_private.yaml", "cbeta/_draft"}, report.Skipped)
	assert.Equal(t, []string{"visible"}, r.Names())
}

func TestCall_UnknownTool(t *testing.T) {
	r := New()
	env := r.Call(context.Background(), "missing", nil)
	assert.Equal(t, envelope.Error("unknown tool: missing"), env)
}

func TestCall_Arguments(t *testing.T) {
	var got Args
	r := New(WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	_, err := r.Discover(unitWith("search", Tool{
		Name: "search",
		Params: []Param{
			{Name: "q", Type: TypeString, Required: true},
			{Name: "rows", Type: TypeInteger, Default: 20},
			{Name: "start", Type: TypeInteger, Default: 0},
			{Name: "sort", Type: TypeString, Default: "f", Enum: []string{"f", "b", "location"}},
			{Name: "fields", Type: TypeString},
			{Name: "cache", Type: TypeBoolean, Default: true},
		},
		Handler: func(_ context.Context, a Args) envelope.Envelope {
			got = a
			return envelope.Success(nil)
		},
	}))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("defaults applied", func(t *testing.T) {
		env := r.Call(ctx, "search", json.RawMessage(`{"q":"法華經"}`))
		require.True(t, env.IsSuccess())
		assert.Equal(t, Args{"q": "法華經", "rows": 20, "start": 0, "sort": "f", "cache": true}, got)
	})

	t.Run("integers coerced from numbers and strings", func(t *testing.T) {
		env := r.Call(ctx, "search", json.RawMessage(`{"q":"x","rows":"5","start":10.0}`))
		require.True(t, env.IsSuccess())
		assert.Equal(t, 5, got["rows"])
		assert.Equal(t, 10, got["start"])
	})

	t.Run("explicit null uses default", func(t *testing.T) {
		env := r.Call(ctx, "search", json.RawMessage(`{"q":"x","rows":null}`))
		require.True(t, env.IsSuccess())
		assert.Equal(t, 20, got["rows"])
	})

	t.Run("missing required", func(t *testing.T) {
		env := r.Call(ctx, "search", json.RawMessage(`{"rows":5}`))
		require.True(t, env.IsError())
		assert.Equal(t, "validation failed for q: is required", env.Message)
	})

	t.Run("wrong integer type", func(t *testing.T) {
		env := r.Call(ctx, "search", json.RawMessage(`{"q":"x","rows":2.5}`))
		require.True(t, env.IsError())
		assert.Contains(t, env.Message, "must be an integer")
	})

	t.Run("enum violation", func(t *testing.T) {
		env := r.Call(ctx, "search", json.RawMessage(`{"q":"x","sort":"z"}`))
		require.True(t, env.IsError())
		assert.Contains(t, env.Message, "must be one of f, b, location")
	})

	t.Run("non-object arguments", func(t *testing.T) {
		env := r.Call(ctx, "search", json.RawMessage(`["q"]`))
		require.True(t, env.IsError())
		assert.True(t, strings.HasPrefix(env.Message, "invalid arguments: "))
	})
}

func TestCall_RecoversHandlerPanic(t *testing.T) {
	logger, buf := newTestLogger()
	r := New(WithLogger(logger))
	_, err := r.Discover(unitWith("boom", Tool{
		Name: "boom",
		Handler: func(context.Context, Args) envelope.Envelope {
			var m map[string]int
			m["x"] = 1
			return envelope.Success(nil)
		},
	}))
	require.NoError(t, err)

	env := r.Call(context.Background(), "boom", nil)
	require.True(t, env.IsError())
	assert.Contains(t, env.Message, "boom failed unexpectedly")
	assert.Contains(t, buf.String(), "Panic recovered")
}

func TestParseDuplicatePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DuplicatePolicy
		wantErr bool
	}{
		{"", KeepFirst, false},
		{"keep-first", KeepFirst, false},
		{"keep-last", KeepLast, false},
		{"fail", Fail, false},
		{"ignore", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuplicatePolicy(tt.in)
			if tt.wantErr {
				assert.True(t, apierrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArgs(t *testing.T) {
	a := Args{"q": "般若", "rows": 20, "start": 0, "empty": "", "flag": false, "n": json.Number("7")}

	assert.True(t, a.Has("q"))
	assert.True(t, a.Has("rows"))
	assert.False(t, a.Has("start"))
	assert.False(t, a.Has("empty"))
	assert.False(t, a.Has("flag"))
	assert.False(t, a.Has("absent"))

	assert.Equal(t, "20", a.String("rows"))
	assert.Equal(t, 7, a.Int("n"))
	assert.Equal(t, 0, a.Int("absent"))

	q := a.Values("q", "rows", "start", "absent")
	assert.Equal(t, "般若", q.Get("q"))
	assert.Equal(t, "20", q.Get("rows"))
	assert.Equal(t, "0", q.Get("start"))
	assert.False(t, q.Has("absent"))
}

func TestText_In(t *testing.T) {
	text := Text{"en": "Full-text search", "zh-TW": "全文檢索"}

	assert.Equal(t, "全文檢索", text.In("zh-TW"))
	assert.Equal(t, "Full-text search", text.In("en"))
	assert.Equal(t, "Full-text search", text.In("fr"))
	assert.Equal(t, "全文檢索", Text{"zh-TW": "全文檢索"}.In("en"))
	assert.Equal(t, "", Text(nil).In("en"))
}

func TestWalkUnits(t *testing.T) {
	fsys := fstest.MapFS{
		"tools/b.yaml":              {Data: []byte("b")},
		"tools/a.toml":              {Data: []byte("a")},
		"tools/_hidden/c.yaml":      {Data: []byte("c")},
		"tools/nested/d.json":       {Data: []byte("d")},
		"tools/README.md":           {Data: []byte("ignored")},
		"tools/_private.yaml":       {Data: []byte("p")},
		"elsewhere/not_walked.yaml": {Data: []byte("x")},
	}

	open := func(fsys fs.FS, name string) Unit {
		if strings.HasSuffix(name, ".md") {
			return nil
		}
		return NewUnit(name, func(*Collector) error { return nil })
	}

	units, err := WalkUnits(fsys, "tools", open)
	require.NoError(t, err)

	var paths []string
	for _, u := range units {
		paths = append(paths, u.Path())
	}
	assert.Equal(t, []string{
		"tools/_hidden/c.yaml",
		"tools/_private.yaml",
		"tools/a.toml",
		"tools/b.yaml",
		"tools/nested/d.json",
	}, paths)
}

func TestWalkUnits_MissingRoot(t *testing.T) {
	_, err := WalkUnits(fstest.MapFS{}, "tools", func(fs.FS, string) Unit { return nil })
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
