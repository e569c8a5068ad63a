package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Location is a parsed input or output root.
type Location struct {
	// Scheme is "s3" or "file"
	Scheme string
	// Bucket is set for s3 locations
	Bucket string
	// Prefix is the object prefix inside the bucket, or the local directory
	Prefix string
}

// ParseLocation parses s3://bucket/prefix or a local directory path.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("storage: empty location")
	}
	if rest, ok := strings.CutPrefix(raw, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("storage: missing bucket in %q", raw)
		}
		return Location{Scheme: "s3", Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
	}
	return Location{Scheme: "file", Prefix: strings.TrimPrefix(raw, "file://")}, nil
}

// Join returns an object path below the location's root. Local storage is
// rooted at the directory itself, so only s3 paths carry the prefix.
func (l Location) Join(elem ...string) string {
	if l.Scheme == "s3" && l.Prefix != "" {
		return path.Join(append([]string{l.Prefix}, elem...)...)
	}
	return path.Join(elem...)
}

// Root is the object prefix of the location inside its storage.
func (l Location) Root() string {
	return l.Join()
}

// String formats the location.
func (l Location) String() string {
	if l.Scheme == "s3" {
		return "s3://" + l.Bucket + "/" + l.Prefix
	}
	return l.Prefix
}

// Open returns the storage backing the location.
func Open(ctx context.Context, loc Location, cfg S3Config) (ObjectStorage, error) {
	switch loc.Scheme {
	case "s3":
		return NewS3Storage(ctx, loc.Bucket, cfg)
	case "file":
		return NewLocalStorage(loc.Prefix)
	default:
		return nil, fmt.Errorf("storage: unsupported scheme %q", loc.Scheme)
	}
}
