package objectstore

import "strings"

// NormalizeKey turns a configured archive location into a bucket-relative
// key prefix. "s3://bucket/a/b" and "/a/b/" both become "a/b".
func NormalizeKey(location string) string {
	if rest, ok := strings.CutPrefix(location, "s3://"); ok {
		_, key, found := strings.Cut(rest, "/")
		if !found {
			return ""
		}
		location = key
	}
	return strings.Trim(location, "/")
}

// JoinKey joins key segments with single slashes, skipping empty ones.
func JoinKey(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, "/")
}
