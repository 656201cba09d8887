package jsonpath

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/aadnode/internal/types"
)

func decode(t *testing.T, data string) any {
	t.Helper()
	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", data, err)
	}
	return doc
}

func TestLookup_Normal(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		data     string
		expected any
	}{
		{
			name:     "HAL link",
			path:     "_links.deploymentBase.href",
			data:     `{"_links":{"deploymentBase":{"href":"http://h/DEFAULT/controller/v1/000001/deploymentBase/41"}}}`,
			expected: "http://h/DEFAULT/controller/v1/000001/deploymentBase/41",
		},
		{
			name:     "array index access",
			path:     "deployment.chunks[0].part",
			data:     `{"deployment":{"chunks":[{"part":"os"}]}}`,
			expected: "os",
		},
		{
			name:     "nested indices",
			path:     "deployment.chunks[1].artifacts[0].size",
			data:     `{"deployment":{"chunks":[{},{"artifacts":[{"size":42}]}]}}`,
			expected: float64(42),
		},
		{
			name:     "hyphenated key",
			path:     "_links.download-http.href",
			data:     `{"_links":{"download-http":{"href":"http://x/main.bin"}}}`,
			expected: "http://x/main.bin",
		},
		{
			name:     "empty path is the document",
			path:     "",
			data:     `"root"`,
			expected: "root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := Parse(tt.path)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.path, err)
			}
			got, err := Lookup(path, decode(t, tt.data))
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("Lookup() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestLookup_EdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		path    []types.PathSegment
		data    string
		wantErr error
	}{
		{"empty object", types.Keys("missing"), `{}`, types.ErrFieldNotFound},
		{"empty array", []types.PathSegment{types.Index(0)}, `[]`, types.ErrFieldNotFound},
		{"null at intermediate level", types.Keys("_links", "configData"), `{"_links": null}`, types.ErrFieldNotFound},
		{"scalar but path continues", types.Keys("value", "nested"), `{"value": "scalar"}`, types.ErrFieldNotFound},
		{"index out of bounds", []types.PathSegment{types.Index(5)}, `[1, 2, 3]`, types.ErrFieldNotFound},
		{"string key on array", types.Keys("key"), `[1, 2, 3]`, types.ErrFieldNotFound},
		{"integer index on object", []types.PathSegment{types.Index(0)}, `{"0": "value"}`, types.ErrFieldNotFound},
		{"too deep", types.Keys("a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o", "p", "q"), `{}`, types.ErrPathTooDeep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Lookup(tt.path, decode(t, tt.data))
			if err != tt.wantErr {
				t.Errorf("Lookup() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLenAndJoin(t *testing.T) {
	doc := decode(t, `{"chunks":[{"artifacts":[1,2,3]},{"artifacts":"none"}]}`)
	chunks := types.Keys("chunks")

	if n := Len(doc, chunks); n != 2 {
		t.Errorf("Len(chunks) = %d, want 2", n)
	}
	if n := Len(doc, Join(chunks, types.Index(0), types.PathSegment{Key: "artifacts"})); n != 3 {
		t.Errorf("Len(chunks[0].artifacts) = %d, want 3", n)
	}
	if n := Len(doc, Join(chunks, types.Index(1), types.PathSegment{Key: "artifacts"})); n != 0 {
		t.Errorf("Len(chunks[1].artifacts) = %d, want 0 for a string", n)
	}
	if n := Len(doc, types.Keys("missing")); n != 0 {
		t.Errorf("Len(missing) = %d, want 0", n)
	}

	base := make([]types.PathSegment, 1, 4)
	base[0] = types.PathSegment{Key: "a"}
	first := Join(base, types.Index(0))
	second := Join(base, types.Index(1))
	if first[1].Index != 0 || second[1].Index != 1 {
		t.Errorf("Join shares storage with base: %+v %+v", first, second)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    []types.PathSegment
		wantErr bool
	}{
		{in: "a.b", want: types.Keys("a", "b")},
		{in: "a[2].b", want: []types.PathSegment{{Key: "a"}, types.Index(2), {Key: "b"}}},
		{in: "a[1][0]", want: []types.PathSegment{{Key: "a"}, types.Index(1), types.Index(0)}},
		{in: "a..b", wantErr: true},
		{in: "a[x]", wantErr: true},
		{in: "a[*]", wantErr: true},
		{in: "a[1", wantErr: true},
		{in: "a[-1]", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Parse(%q)[%d] = %+v, want %+v", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStringAt(t *testing.T) {
	doc := decode(t, `{"a":{"s":"x","n":1}}`)
	if s, err := StringAt(doc, types.Keys("a", "s")); err != nil || s != "x" {
		t.Errorf("StringAt(a.s) = %q, %v; want x, nil", s, err)
	}
	if _, err := StringAt(doc, types.Keys("a", "n")); !errors.Is(err, types.ErrUnexpectedType) {
		t.Errorf("StringAt(a.n) error = %v, want ErrUnexpectedType", err)
	}
	if _, err := StringAt(doc, types.Keys("a", "missing")); !errors.Is(err, types.ErrFieldNotFound) {
		t.Errorf("StringAt(a.missing) error = %v, want ErrFieldNotFound", err)
	}
}

// Property-based test: lookup never crashes
func TestLookup_PropertyNeverCrashes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	doc := decode(t, `{"key": [{"key": "value"}, [1, {"key": null}]]}`)

	properties.Property("lookup never crashes regardless of path", prop.ForAll(
		func(depth int, useArray bool, index int) bool {
			path := make([]types.PathSegment, depth)
			for i := range path {
				if useArray && i%2 == 1 {
					path[i] = types.Index(index)
				} else {
					path[i] = types.PathSegment{Key: "key"}
				}
			}

			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Lookup() panicked: %v", r)
				}
			}()

			_, _ = Lookup(path, doc)
			return true
		},
		gen.IntRange(0, 20),
		gen.Bool(),
		gen.IntRange(-2, 3),
	))

	properties.TestingRun(t)
}
