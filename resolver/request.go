package resolver

import (
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// RequestKind is the canonical name of an S3 operation, as used by the SDK
// operation names (GetObject, PutObject, ...).
type RequestKind string

// AccessLevel groups request kinds by what they do to the data.
type AccessLevel string

const (
	AccessRead  AccessLevel = "read"
	AccessList  AccessLevel = "list"
	AccessWrite AccessLevel = "write"
	AccessAdmin AccessLevel = "admin"
)

const (
	AbortMultipartUpload            RequestKind = "AbortMultipartUpload"
	CompleteMultipartUpload         RequestKind = "CompleteMultipartUpload"
	CopyObject                      RequestKind = "CopyObject"
	CreateBucket                    RequestKind = "CreateBucket"
	CreateMultipartUpload           RequestKind = "CreateMultipartUpload"
	DeleteBucket                    RequestKind = "DeleteBucket"
	DeleteBucketPolicy              RequestKind = "DeleteBucketPolicy"
	DeleteObject                    RequestKind = "DeleteObject"
	DeleteObjectTagging             RequestKind = "DeleteObjectTagging"
	DeleteObjects                   RequestKind = "DeleteObjects"
	GetBucketAcl                    RequestKind = "GetBucketAcl"
	GetBucketCors                   RequestKind = "GetBucketCors"
	GetBucketEncryption             RequestKind = "GetBucketEncryption"
	GetBucketLifecycleConfiguration RequestKind = "GetBucketLifecycleConfiguration"
	GetBucketLocation               RequestKind = "GetBucketLocation"
	GetBucketPolicy                 RequestKind = "GetBucketPolicy"
	GetBucketTagging                RequestKind = "GetBucketTagging"
	GetBucketVersioning             RequestKind = "GetBucketVersioning"
	GetObject                       RequestKind = "GetObject"
	GetObjectAcl                    RequestKind = "GetObjectAcl"
	GetObjectAttributes             RequestKind = "GetObjectAttributes"
	GetObjectLegalHold              RequestKind = "GetObjectLegalHold"
	GetObjectRetention              RequestKind = "GetObjectRetention"
	GetObjectTagging                RequestKind = "GetObjectTagging"
	HeadBucket                      RequestKind = "HeadBucket"
	HeadObject                      RequestKind = "HeadObject"
	ListBuckets                     RequestKind = "ListBuckets"
	ListMultipartUploads            RequestKind = "ListMultipartUploads"
	ListObjectVersions              RequestKind = "ListObjectVersions"
	ListObjects                     RequestKind = "ListObjects"
	ListObjectsV2                   RequestKind = "ListObjectsV2"
	ListParts                       RequestKind = "ListParts"
	PutBucketAcl                    RequestKind = "PutBucketAcl"
	PutBucketCors                   RequestKind = "PutBucketCors"
	PutBucketEncryption             RequestKind = "PutBucketEncryption"
	PutBucketLifecycleConfiguration RequestKind = "PutBucketLifecycleConfiguration"
	PutBucketPolicy                 RequestKind = "PutBucketPolicy"
	PutBucketTagging                RequestKind = "PutBucketTagging"
	PutBucketVersioning             RequestKind = "PutBucketVersioning"
	PutObject                       RequestKind = "PutObject"
	PutObjectAcl                    RequestKind = "PutObjectAcl"
	PutObjectLegalHold              RequestKind = "PutObjectLegalHold"
	PutObjectRetention              RequestKind = "PutObjectRetention"
	PutObjectTagging                RequestKind = "PutObjectTagging"
	RestoreObject                   RequestKind = "RestoreObject"
	SelectObjectContent             RequestKind = "SelectObjectContent"
	UploadPart                      RequestKind = "UploadPart"
	UploadPartCopy                  RequestKind = "UploadPartCopy"
)

// requestKinds is the closed catalog. Adding an operation means adding it here.
var requestKinds = map[RequestKind]AccessLevel{
	GetObject:           AccessRead,
	GetObjectAcl:        AccessRead,
	GetObjectAttributes: AccessRead,
	GetObjectLegalHold:  AccessRead,
	GetObjectRetention:  AccessRead,
	GetObjectTagging:    AccessRead,
	HeadBucket:          AccessRead,
	HeadObject:          AccessRead,
	GetBucketLocation:   AccessRead,
	SelectObjectContent: AccessRead,

	ListBuckets:          AccessList,
	ListMultipartUploads: AccessList,
	ListObjectVersions:   AccessList,
	ListObjects:          AccessList,
	ListObjectsV2:        AccessList,
	ListParts:            AccessList,

	AbortMultipartUpload:    AccessWrite,
	CompleteMultipartUpload: AccessWrite,
	CopyObject:              AccessWrite,
	CreateMultipartUpload:   AccessWrite,
	DeleteObject:            AccessWrite,
	DeleteObjectTagging:     AccessWrite,
	DeleteObjects:           AccessWrite,
	PutObject:               AccessWrite,
	PutObjectAcl:            AccessWrite,
	PutObjectLegalHold:      AccessWrite,
	PutObjectRetention:      AccessWrite,
	PutObjectTagging:        AccessWrite,
	RestoreObject:           AccessWrite,
	UploadPart:              AccessWrite,
	UploadPartCopy:          AccessWrite,

	CreateBucket:                    AccessAdmin,
	DeleteBucket:                    AccessAdmin,
	DeleteBucketPolicy:              AccessAdmin,
	GetBucketAcl:                    AccessAdmin,
	GetBucketCors:                   AccessAdmin,
	GetBucketEncryption:             AccessAdmin,
	GetBucketLifecycleConfiguration: AccessAdmin,
	GetBucketPolicy:                 AccessAdmin,
	GetBucketTagging:                AccessAdmin,
	GetBucketVersioning:             AccessAdmin,
	PutBucketAcl:                    AccessAdmin,
	PutBucketCors:                   AccessAdmin,
	PutBucketEncryption:             AccessAdmin,
	PutBucketLifecycleConfiguration: AccessAdmin,
	PutBucketPolicy:                 AccessAdmin,
	PutBucketTagging:                AccessAdmin,
	PutBucketVersioning:             AccessAdmin,
}

func (k RequestKind) String() string {
	return string(k)
}

// AccessLevel returns the access level of a catalogued kind, or "" otherwise.
func (k RequestKind) AccessLevel() AccessLevel {
	return requestKinds[k]
}

// Valid reports whether the kind belongs to the catalog.
func (k RequestKind) Valid() bool {
	_, ok := requestKinds[k]
	return ok
}

// RequestKinds returns the whole catalog, sorted by name.
func RequestKinds() []RequestKind {
	kinds := lo.Keys(requestKinds)
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// RequestKindsWithAccess returns the sorted kinds that have the given level.
func RequestKindsWithAccess(level AccessLevel) []RequestKind {
	return lo.Filter(RequestKinds(), func(k RequestKind, _ int) bool {
		return requestKinds[k] == level
	})
}

// ParseAccessLevel validates an access level name.
func ParseAccessLevel(s string) (AccessLevel, bool) {
	switch level := AccessLevel(strings.ToLower(s)); level {
	case AccessRead, AccessList, AccessWrite, AccessAdmin:
		return level, true
	}
	return "", false
}

// MapRequestKind looks the canonical operation name up in the catalog. The
// match is exact. A miss is logged and reported through the boolean; callers
// must leave the operation out of the call instead of inventing a kind.
func MapRequestKind(name string) (RequestKind, bool) {
	slog.Debug("S3 Request", "request", name)
	kind := RequestKind(name)
	if _, ok := requestKinds[kind]; !ok {
		slog.Error("Could not find S3 request kind", "request", name)
		return "", false
	}
	return kind, true
}

// RequestKindOf derives the request kind from an SDK operation input, so
// *s3.GetObjectInput maps to GetObject.
func RequestKindOf(input any) (RequestKind, bool) {
	if input == nil {
		slog.Error("Could not find S3 request kind for nil input")
		return "", false
	}
	t := reflect.TypeOf(input)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return MapRequestKind(strings.TrimSuffix(t.Name(), "Input"))
}
