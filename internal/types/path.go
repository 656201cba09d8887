package types

// PathSegment represents one component of a JSON field path: an object key,
// or an array index when IsIndex is set.
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool // disambiguates Index=0 from unset
}

// Keys builds a path of object keys.
func Keys(keys ...string) []PathSegment {
	path := make([]PathSegment, len(keys))
	for i, k := range keys {
		path[i] = PathSegment{Key: k}
	}
	return path
}

// Index is an array index segment.
func Index(i int) PathSegment {
	return PathSegment{Index: i, IsIndex: true}
}
