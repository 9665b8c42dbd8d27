package service

import (
	"encoding/xml"
	"time"
)

const (
	s3Namespace = "http://s3.amazonaws.com/doc/2006-03-01/"
	// iso8601 is the timestamp layout used in S3 documents
	iso8601 = "2006-01-02T15:04:05.000Z"
	// storageClass is reported for every object
	storageClass = "STANDARD"
	ownerID      = "nanami"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(iso8601)
}

// Owner of every bucket
type Owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

// BucketXML is one entry of ListAllMyBucketsResult
type BucketXML struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

// ListAllMyBucketsResult is the ListBuckets response
type ListAllMyBucketsResult struct {
	XMLName xml.Name    `xml:"ListAllMyBucketsResult"`
	Xmlns   string      `xml:"xmlns,attr"`
	Owner   Owner       `xml:"Owner"`
	Buckets []BucketXML `xml:"Buckets>Bucket"`
}

// ContentXML is one object of ListBucketResult
type ContentXML struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

// CommonPrefixXML is a rolled up key prefix
type CommonPrefixXML struct {
	Prefix string `xml:"Prefix"`
}

// ListBucketResult is the ListObjects (v1) response
type ListBucketResult struct {
	XMLName        xml.Name          `xml:"ListBucketResult"`
	Xmlns          string            `xml:"xmlns,attr"`
	Name           string            `xml:"Name"`
	Prefix         string            `xml:"Prefix"`
	Marker         string            `xml:"Marker"`
	NextMarker     string            `xml:"NextMarker,omitempty"`
	MaxKeys        int               `xml:"MaxKeys"`
	Delimiter      string            `xml:"Delimiter,omitempty"`
	IsTruncated    bool              `xml:"IsTruncated"`
	Contents       []ContentXML      `xml:"Contents"`
	CommonPrefixes []CommonPrefixXML `xml:"CommonPrefixes"`
}
