// Package s3client wraps an S3 client so that every operation is described as
// a resolver.Call and runs with the credentials the session resolver picks
// for it. Operations the resolver declines run with the client's own
// credentials chain.
package s3client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/diggerhq/credresolver/config"
	"github.com/diggerhq/credresolver/principal"
	"github.com/diggerhq/credresolver/resolver"
	"github.com/samber/lo"
)

// API is the subset of *s3.Client whose operations are resolved per call.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ API = (*s3.Client)(nil)
var _ API = (*Client)(nil)

// Client implements API by delegating to another API with the credentials
// the resolver picks for each operation.
type Client struct {
	api      API
	resolver resolver.CredentialsResolver
}

// New wraps api. A nil resolver leaves every call on the default chain.
func New(api API, r resolver.CredentialsResolver) *Client {
	return &Client{api: api, resolver: r}
}

// NewFromConfig builds an S3 client from the default AWS configuration and
// loads the session's credentials resolver once.
func NewFromConfig(ctx context.Context, cfg *config.Config, p *principal.Principal) (*Client, error) {
	api, err := NewAPI(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(api, resolver.GetCredentialsResolver(cfg, p)), nil
}

// NewAPI builds the plain SDK client for the s3 section of cfg.
func NewAPI(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
	}
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not load aws config: %v", err)
	}
	return s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	}), nil
}

// WithCredentials overrides the credentials of a single operation.
func WithCredentials(provider aws.CredentialsProvider) func(*s3.Options) {
	return func(o *s3.Options) {
		o.Credentials = provider
	}
}

// Resolver returns the resolver the client consults, nil for the default chain.
func (c *Client) Resolver() resolver.CredentialsResolver {
	return c.resolver
}

func (c *Client) withCredentials(call resolver.Call, optFns []func(*s3.Options)) []func(*s3.Options) {
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		if foreign := resolver.ForeignResources(call); len(foreign) > 0 {
			slog.Debug("S3 call touches resources outside its bucket",
				"bucket", call.BucketName(),
				"foreign", foreign)
		}
	}
	provider := resolver.ResolveOrDefault(c.resolver, call)
	if provider == nil {
		return optFns
	}
	return append(slices.Clone(optFns), WithCredentials(provider))
}

func newCall(input any, bucket *string, resources []resolver.Resource) *resolver.RequestCall {
	return resolver.NewRequestCall().
		SetBucket(aws.ToString(bucket)).
		SetResources(resources).
		SetRequests(resolver.RequestKindsOf(input))
}

func objectCall(input any, bucket, key *string) *resolver.RequestCall {
	return newCall(input, bucket, resolver.ResourcesForKey(resolver.Object, aws.ToString(bucket), aws.ToString(key)))
}

func (c *Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if params == nil {
		params = &s3.HeadBucketInput{}
	}
	call := newCall(params, params.Bucket, resolver.ResourcesForBucket(resolver.Bucket, aws.ToString(params.Bucket)))
	return c.api.HeadBucket(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if params == nil {
		params = &s3.HeadObjectInput{}
	}
	call := objectCall(params, params.Bucket, params.Key)
	return c.api.HeadObject(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if params == nil {
		params = &s3.GetObjectInput{}
	}
	call := objectCall(params, params.Bucket, params.Key)
	return c.api.GetObject(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if params == nil {
		params = &s3.PutObjectInput{}
	}
	call := objectCall(params, params.Bucket, params.Key)
	return c.api.PutObject(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if params == nil {
		params = &s3.DeleteObjectInput{}
	}
	call := objectCall(params, params.Bucket, params.Key)
	return c.api.DeleteObject(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if params == nil {
		params = &s3.DeleteObjectsInput{}
	}
	var keys []string
	if params.Delete != nil {
		keys = lo.Map(params.Delete.Objects, func(o types.ObjectIdentifier, _ int) string {
			return aws.ToString(o.Key)
		})
	}
	call := newCall(params, params.Bucket, resolver.ResourcesForKeys(resolver.Object, aws.ToString(params.Bucket), keys))
	return c.api.DeleteObjects(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if params == nil {
		params = &s3.ListObjectsV2Input{}
	}
	bucket := aws.ToString(params.Bucket)
	resources := resolver.ResourcesForBucket(resolver.Bucket, bucket)
	if prefix := aws.ToString(params.Prefix); prefix != "" {
		resources = resolver.ResourcesForKey(resolver.Prefix, bucket, prefix)
	}
	call := newCall(params, params.Bucket, resources)
	return c.api.ListObjectsV2(ctx, params, c.withCredentials(call, optFns)...)
}

// CopyObject reads the source object as well, so the call carries both
// resources and the implied GetObject.
func (c *Client) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if params == nil {
		params = &s3.CopyObjectInput{}
	}
	call := objectCall(params, params.Bucket, params.Key)
	if source, ok := ParseCopySource(aws.ToString(params.CopySource)); ok {
		call.AddResources(source)
	}
	call.AddRequests(resolver.GetObject)
	return c.api.CopyObject(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	if params == nil {
		params = &s3.CreateMultipartUploadInput{}
	}
	call := objectCall(params, params.Bucket, params.Key)
	return c.api.CreateMultipartUpload(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if params == nil {
		params = &s3.UploadPartInput{}
	}
	call := objectCall(params, params.Bucket, params.Key)
	return c.api.UploadPart(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if params == nil {
		params = &s3.CompleteMultipartUploadInput{}
	}
	call := objectCall(params, params.Bucket, params.Key)
	return c.api.CompleteMultipartUpload(ctx, params, c.withCredentials(call, optFns)...)
}

func (c *Client) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	if params == nil {
		params = &s3.AbortMultipartUploadInput{}
	}
	call := objectCall(params, params.Bucket, params.Key)
	return c.api.AbortMultipartUpload(ctx, params, c.withCredentials(call, optFns)...)
}

// ParseCopySource turns a CopySource header value ("bucket/key", optionally
// URL-encoded, with a leading slash or a ?versionId suffix) into the object
// resource it names.
func ParseCopySource(copySource string) (resolver.Resource, bool) {
	source, _, _ := strings.Cut(strings.TrimPrefix(copySource, "/"), "?")
	if unescaped, err := url.PathUnescape(source); err == nil {
		source = unescaped
	}
	bucket, key, ok := strings.Cut(source, "/")
	if !ok || bucket == "" || key == "" {
		return resolver.Resource{}, false
	}
	return resolver.NewResource(resolver.Object, bucket, key), true
}

// Exists reports whether the object is there, running HeadObject with the
// resolved credentials.
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object s3://%s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// IsNotFound reports whether err is an S3 error for a missing object or bucket.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "NoSuchBucket"
	}
	return false
}
