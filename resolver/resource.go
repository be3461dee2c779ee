package resolver

import "fmt"

// Scheme prefixes every resource path.
const Scheme = "s3"

// ResourceType is the kind of storage entity a Resource refers to.
type ResourceType int

const (
	// Bucket refers to the bucket itself, e.g. s3://my-bucket/
	Bucket ResourceType = iota
	// Object refers to a single stored object, e.g. s3://my-bucket/prefix/object
	Object
	// Prefix refers to a part of a key shared by any number of objects, e.g. s3://my-bucket/prefix
	Prefix
)

func (t ResourceType) String() string {
	switch t {
	case Bucket:
		return "BUCKET"
	case Object:
		return "OBJECT"
	case Prefix:
		return "PREFIX"
	default:
		return fmt.Sprintf("ResourceType(%d)", int(t))
	}
}

// ParseResourceType is the inverse of ResourceType.String.
func ParseResourceType(s string) (ResourceType, bool) {
	switch s {
	case "BUCKET", "bucket":
		return Bucket, true
	case "OBJECT", "object":
		return Object, true
	case "PREFIX", "prefix":
		return Prefix, true
	}
	return 0, false
}

// Resource is an immutable description of something a call touches.
type Resource struct {
	resourceType ResourceType
	bucket       string
	key          string
}

// NewResource builds a resource. An empty key means the resource has no key
// and its path points at the bucket root. The type is not checked against the
// presence of a key.
func NewResource(t ResourceType, bucket, key string) Resource {
	return Resource{resourceType: t, bucket: bucket, key: key}
}

func (r Resource) Type() ResourceType {
	return r.resourceType
}

func (r Resource) BucketName() string {
	return r.bucket
}

// Key is empty for bucket resources.
func (r Resource) Key() string {
	return r.key
}

// Path renders scheme://bucket/ or scheme://bucket/key.
func (r Resource) Path() string {
	return Scheme + "://" + r.bucket + "/" + r.key
}

func (r Resource) String() string {
	return fmt.Sprintf("(Type: %v,Bucket Name: %v,Path: %v)", r.resourceType, r.bucket, r.Path())
}
