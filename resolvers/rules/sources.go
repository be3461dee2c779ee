package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/diggerhq/credresolver/config"
	"github.com/diggerhq/credresolver/credentials/envprovider"
)

type Option func(*sourceBuilder)

// WithAssumeRoleClient makes role sources use client instead of an STS client
// built from the default AWS configuration.
func WithAssumeRoleClient(client stscreds.AssumeRoleAPIClient) Option {
	return func(b *sourceBuilder) {
		b.stsClient = client
	}
}

type sourceBuilder struct {
	cfg         *config.Config
	sessionName string
	stsClient   stscreds.AssumeRoleAPIClient
}

func (b *sourceBuilder) loadOptions(extra ...func(*awsconfig.LoadOptions) error) []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if b.cfg.S3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(b.cfg.S3.Region))
	}
	return append(opts, extra...)
}

func (b *sourceBuilder) assumeRoleClient(ctx context.Context) (stscreds.AssumeRoleAPIClient, error) {
	if b.stsClient != nil {
		return b.stsClient, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, b.loadOptions()...)
	if err != nil {
		return nil, fmt.Errorf("could not load aws config: %v", err)
	}
	b.stsClient = sts.NewFromConfig(awsCfg)
	return b.stsClient, nil
}

func (b *sourceBuilder) build(ctx context.Context, name string, source *SourceYaml) (aws.CredentialsProvider, error) {
	slog.Debug("Building credentials source", "source", name, "type", source.Type)

	switch source.Type {
	case SourceRole:
		client, err := b.assumeRoleClient(ctx)
		if err != nil {
			return nil, err
		}
		sessionName := b.sessionName
		if source.SessionName != "" {
			sessionName = source.SessionName
		}
		return aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(client, source.RoleArn, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = sessionName
			if b.cfg.Resolver.RoleSessionDuration != 0 {
				o.Duration = b.cfg.Resolver.RoleSessionDuration
			}
			if source.ExternalId != "" {
				o.ExternalID = aws.String(source.ExternalId)
			}
		})), nil
	case SourceEnv:
		return aws.NewCredentialsCache(envprovider.New(source.EnvPrefix)), nil
	case SourceStatic:
		return credentials.NewStaticCredentialsProvider(source.AccessKeyId, source.SecretAccessKey, source.SessionToken), nil
	case SourceProfile:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, b.loadOptions(awsconfig.WithSharedConfigProfile(source.Profile))...)
		if err != nil {
			return nil, fmt.Errorf("could not load aws profile %s: %v", source.Profile, err)
		}
		if awsCfg.Credentials == nil {
			return nil, fmt.Errorf("aws profile %s has no credentials", source.Profile)
		}
		return awsCfg.Credentials, nil
	}
	return nil, fmt.Errorf("unknown source type %q", source.Type)
}
