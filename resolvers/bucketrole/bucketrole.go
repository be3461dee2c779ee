// Package bucketrole resolves credentials by assuming a dedicated IAM role for
// each configured bucket.
package bucketrole

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/diggerhq/credresolver/config"
	"github.com/diggerhq/credresolver/principal"
	"github.com/diggerhq/credresolver/resolver"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// Name is the value of s3.credentials_resolver selecting this resolver.
const Name = "bucketrole"

// ExternalIDProperty optionally sets the external id sent with AssumeRole.
const ExternalIDProperty = "bucketrole_external_id"

func init() {
	resolver.Register(Name, New)
}

type Resolver struct {
	roles       map[string]string
	client      stscreds.AssumeRoleAPIClient
	sessionName string
	externalID  string
	duration    time.Duration
	// one cached provider per bucket, created on first use
	providers *xsync.MapOf[string, aws.CredentialsProvider]
}

// New is the resolver.Factory for bucketrole.
func New(cfg *config.Config, p *principal.Principal) (resolver.CredentialsResolver, error) {
	if p == nil {
		return nil, errors.Wrap(resolver.ErrContractMismatch, "bucketrole needs a principal to name role sessions")
	}
	if len(cfg.Resolver.BucketRoles) == 0 {
		return nil, errors.Wrap(resolver.ErrNotInstantiable, "bucketrole has no resolver.bucket_roles configured")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("could not load aws config for bucketrole: %v", err)
	}

	return NewWithClient(cfg, p, sts.NewFromConfig(awsCfg)), nil
}

// NewWithClient builds the resolver around an existing STS client.
func NewWithClient(cfg *config.Config, p *principal.Principal, client stscreds.AssumeRoleAPIClient) *Resolver {
	roles := make(map[string]string, len(cfg.Resolver.BucketRoles))
	for bucket, role := range cfg.Resolver.BucketRoles {
		roles[bucket] = role
	}

	slog.Info("Configured bucket role resolver",
		"buckets", len(roles),
		"principal", p.String())

	return &Resolver{
		roles:       roles,
		client:      client,
		sessionName: p.SessionName(),
		externalID:  cfg.Property(ExternalIDProperty, ""),
		duration:    cfg.Resolver.RoleSessionDuration,
		providers:   xsync.NewMapOf[string, aws.CredentialsProvider](),
	}
}

func (r *Resolver) Resolve(call resolver.Call) aws.CredentialsProvider {
	bucket := call.BucketName()
	if bucket == "" {
		return nil
	}
	role, ok := r.roles[bucket]
	if !ok {
		return nil
	}

	provider, _ := r.providers.LoadOrCompute(bucket, func() aws.CredentialsProvider {
		slog.Debug("Creating assume role provider",
			"bucket", bucket,
			"roleArn", role,
			"sessionName", r.sessionName)
		return aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(r.client, role, r.assumeRoleOptions))
	})
	return provider
}

func (r *Resolver) assumeRoleOptions(o *stscreds.AssumeRoleOptions) {
	o.RoleSessionName = r.sessionName
	if r.duration != 0 {
		o.Duration = r.duration
	}
	if r.externalID != "" {
		o.ExternalID = aws.String(r.externalID)
	}
}
