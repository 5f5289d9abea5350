package utils

import "strings"

// MatchCollection reports whether a collection path such as
// "courses/c1/lessons" matches pattern. Pattern syntax:
//   - '*' matches any run of characters inside one segment ("public_*").
//   - ':name' matches exactly one whole segment ("courses/:id/lessons").
//   - a trailing "/**" matches the prefix and everything below it.
func MatchCollection(collection, pattern string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		if collection == prefix {
			return true
		}
		n := strings.Count(prefix, "/") + 1
		segs := strings.SplitN(collection, "/", n+1)
		if len(segs) <= n {
			return false
		}
		return MatchCollection(strings.Join(segs[:n], "/"), prefix)
	}
	cs := strings.Split(collection, "/")
	ps := strings.Split(pattern, "/")
	if len(cs) != len(ps) {
		return false
	}
	for i := range ps {
		if !matchSegment(cs[i], ps[i]) {
			return false
		}
	}
	return true
}

func matchSegment(value, pattern string) bool {
	if strings.HasPrefix(pattern, ":") {
		return value != ""
	}
	vIndex, pIndex := 0, 0
	star, mark := -1, 0
	for vIndex < len(value) {
		switch {
		case pIndex < len(pattern) && pattern[pIndex] == '*':
			star, mark = pIndex, vIndex
			pIndex++
		case pIndex < len(pattern) && pattern[pIndex] == value[vIndex]:
			vIndex++
			pIndex++
		case star >= 0:
			// let the last '*' absorb one more character
			mark++
			vIndex = mark
			pIndex = star + 1
		default:
			return false
		}
	}
	for pIndex < len(pattern) && pattern[pIndex] == '*' {
		pIndex++
	}
	return pIndex == len(pattern)
}
