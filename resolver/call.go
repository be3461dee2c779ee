package resolver

import (
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Call describes one outbound S3 operation about to be issued: the bucket it
// targets, the resources it touches and the requests it is composed of.
type Call interface {
	// BucketName may be empty when the caller has no targeting information.
	BucketName() string
	// Resources is unordered and may contain duplicates.
	Resources() []Resource
	// Requests is ordered; a copy is composed of its own request and the
	// implied read of the source.
	Requests() []RequestKind
	String() string
}

// RequestCall accumulates a call while the calling layer builds an
// operation. It performs no validation. It is not safe for concurrent
// mutation; hand Freeze() to resolvers that might share it across goroutines.
type RequestCall struct {
	bucket    string
	resources []Resource
	requests  []RequestKind
}

func NewRequestCall() *RequestCall {
	return &RequestCall{
		resources: []Resource{},
		requests:  []RequestKind{},
	}
}

func (c *RequestCall) SetBucket(bucket string) *RequestCall {
	c.bucket = bucket
	return c
}

// SetResources replaces the resources collected so far.
func (c *RequestCall) SetResources(resources []Resource) *RequestCall {
	c.resources = resources
	return c
}

func (c *RequestCall) AddResources(resources ...Resource) *RequestCall {
	c.resources = append(c.resources, resources...)
	return c
}

// SetRequests replaces the requests collected so far.
func (c *RequestCall) SetRequests(requests []RequestKind) *RequestCall {
	c.requests = requests
	return c
}

func (c *RequestCall) AddRequests(requests ...RequestKind) *RequestCall {
	c.requests = append(c.requests, requests...)
	return c
}

func (c *RequestCall) BucketName() string {
	return c.bucket
}

func (c *RequestCall) Resources() []Resource {
	return c.resources
}

func (c *RequestCall) Requests() []RequestKind {
	return c.requests
}

func (c *RequestCall) String() string {
	return formatCall(c)
}

// Freeze returns an immutable snapshot of the call.
func (c *RequestCall) Freeze() Call {
	return &frozenCall{
		bucket:    c.bucket,
		resources: slices.Clone(c.resources),
		requests:  slices.Clone(c.requests),
	}
}

type frozenCall struct {
	bucket    string
	resources []Resource
	requests  []RequestKind
}

func (c *frozenCall) BucketName() string {
	return c.bucket
}

func (c *frozenCall) Resources() []Resource {
	return slices.Clone(c.resources)
}

func (c *frozenCall) Requests() []RequestKind {
	return slices.Clone(c.requests)
}

func (c *frozenCall) String() string {
	return formatCall(c)
}

func formatCall(c Call) string {
	var sb strings.Builder
	sb.WriteString("{Bucket: ")
	sb.WriteString(c.BucketName())

	sb.WriteString(",[Requests: ")
	for _, request := range c.Requests() {
		sb.WriteString(request.String())
		sb.WriteString(" ")
	}
	sb.WriteString("]")

	sb.WriteString(",[Resources: ")
	for _, resource := range c.Resources() {
		sb.WriteString(resource.String())
	}
	sb.WriteString("]")
	sb.WriteString("}")
	return sb.String()
}

// ForeignResources returns the resources of a call that live in a different
// bucket than the one the call targets. Copies legitimately produce these.
func ForeignResources(c Call) []Resource {
	return lo.Filter(c.Resources(), func(r Resource, _ int) bool {
		return r.BucketName() != c.BucketName()
	})
}
