// Package jsonpath resolves dotted paths through decoded JSON documents and
// classifies the values found there.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/aadnode/internal/types"
)

/*
 * Field path resolution for JSON documents.
 *
 * Used by the OTA parser to follow HAL links (_links.deploymentBase.href) and
 * to walk deployment descriptors element by element
 * (deployment.chunks[0].artifacts[1].filename). MaxPathDepth is enforced at
 * resolution time. A missing member, an index past the end and a segment that
 * does not fit the value it meets all resolve to ErrFieldNotFound.
 */

// Lookup traverses a document produced by json.Unmarshal into an any.
func Lookup(path []types.PathSegment, doc any) (any, error) {
	if len(path) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	cur := doc
	for _, seg := range path {
		switch v := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				return nil, types.ErrFieldNotFound
			}
			val, ok := v[seg.Key]
			if !ok {
				return nil, types.ErrFieldNotFound
			}
			cur = val
		case []any:
			if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(v) {
				return nil, types.ErrFieldNotFound
			}
			cur = v[seg.Index]
		default:
			return nil, types.ErrFieldNotFound
		}
	}
	return cur, nil
}

// Len returns the length of the array at path, 0 when there is none.
func Len(doc any, path []types.PathSegment) int {
	v, err := Lookup(path, doc)
	if err != nil {
		return 0
	}
	arr, _ := v.([]any)
	return len(arr)
}

// Join returns a new path of base followed by segs.
func Join(base []types.PathSegment, segs ...types.PathSegment) []types.PathSegment {
	out := make([]types.PathSegment, 0, len(base)+len(segs))
	return append(append(out, base...), segs...)
}

// Parse converts a dotted path with optional [n] suffixes into segments.
// Keys containing dots or brackets cannot be expressed.
func Parse(p string) ([]types.PathSegment, error) {
	if p == "" {
		return nil, nil
	}
	var path []types.PathSegment
	for _, part := range strings.Split(p, ".") {
		key := part
		var suffixes []string
		if i := strings.IndexByte(part, '['); i >= 0 {
			key = part[:i]
			rest := part[i:]
			for rest != "" {
				end := strings.IndexByte(rest, ']')
				if rest[0] != '[' || end < 0 {
					return nil, fmt.Errorf("malformed path segment %q", part)
				}
				suffixes = append(suffixes, rest[1:end])
				rest = rest[end+1:]
			}
		}
		if key != "" {
			path = append(path, types.PathSegment{Key: key})
		} else if len(suffixes) == 0 {
			return nil, fmt.Errorf("empty path segment in %q", p)
		}
		for _, s := range suffixes {
			idx, err := strconv.Atoi(s)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid index %q in %q", s, p)
			}
			path = append(path, types.Index(idx))
		}
	}
	return path, nil
}

// MustParse is Parse for package-level path constants.
func MustParse(p string) []types.PathSegment {
	path, err := Parse(p)
	if err != nil {
		panic(err)
	}
	return path
}
