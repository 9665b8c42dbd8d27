package biz

import (
	"context"
	"strings"

	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
)

const (
	// DefaultMaxKeys is used when a listing does not ask for a page size
	DefaultMaxKeys = 1000
	listBatchSize  = 1000
)

// ListObjectsInput are the ListObjects (v1) parameters
type ListObjectsInput struct {
	Prefix    string
	Delimiter string
	Marker    string
	MaxKeys   int
}

// ListObjectsResult is one page of a listing
type ListObjectsResult struct {
	Bucket         *Bucket
	Input          ListObjectsInput
	Objects        []ObjectEntry
	CommonPrefixes []string
	IsTruncated    bool
	// NextMarker is the last key or common prefix returned
	NextMarker string
}

// ListObjects lists the latest versions of the objects in a bucket. Keys
// containing Delimiter after Prefix are rolled up into common prefixes.
// Objects whose latest version is a delete marker are omitted.
func (uc *BucketUseCase) ListObjects(ctx context.Context, name string, in ListObjectsInput) (*ListObjectsResult, error) {
	if in.MaxKeys < 0 {
		return nil, apperrors.New(apperrors.ErrInvalidArgument, "max-keys must be >= 0").WithResource("/" + name)
	}

	b, err := uc.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}

	res := &ListObjectsResult{Bucket: b, Input: in}
	if in.MaxKeys == 0 {
		return res, nil
	}

	count := 0
	lastPrefix := ""
	after := in.Marker

	for {
		batch, err := uc.objects.ListLatest(ctx, b.ID, in.Prefix, after, listBatchSize)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal, "list objects")
		}

		for i := range batch {
			entry := batch[i]
			after = entry.Key

			if cp, ok := commonPrefix(entry.Key, in.Prefix, in.Delimiter); ok {
				if cp == lastPrefix || (in.Marker != "" && strings.HasPrefix(in.Marker, cp)) {
					continue
				}
				if count == in.MaxKeys {
					res.IsTruncated = true
					return res, nil
				}
				res.CommonPrefixes = append(res.CommonPrefixes, cp)
				res.NextMarker = cp
				lastPrefix = cp
				count++
				continue
			}

			if count == in.MaxKeys {
				res.IsTruncated = true
				return res, nil
			}
			res.Objects = append(res.Objects, entry)
			res.NextMarker = entry.Key
			count++
		}

		if len(batch) < listBatchSize {
			return res, nil
		}
	}
}

// commonPrefix returns the rolled up prefix of key, if key contains the
// delimiter after prefix
func commonPrefix(key, prefix, delimiter string) (string, bool) {
	if delimiter == "" || !strings.HasPrefix(key, prefix) {
		return "", false
	}
	rest := key[len(prefix):]
	i := strings.Index(rest, delimiter)
	if i < 0 {
		return "", false
	}
	return prefix + rest[:i+len(delimiter)], true
}
