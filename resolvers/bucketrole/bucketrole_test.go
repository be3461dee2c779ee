package bucketrole

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/diggerhq/credresolver/config"
	"github.com/diggerhq/credresolver/principal"
	"github.com/diggerhq/credresolver/resolver"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSTSClient struct {
	calls  atomic.Int32
	inputs chan *sts.AssumeRoleInput
}

func newMockSTSClient() *mockSTSClient {
	return &mockSTSClient{inputs: make(chan *sts.AssumeRoleInput, 16)}
}

func (m *mockSTSClient) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	m.calls.Add(1)
	m.inputs <- params
	return &sts.AssumeRoleOutput{
		Credentials: &types.Credentials{
			AccessKeyId:     aws.String("ASIA" + *params.RoleArn),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("token"),
			Expiration:      aws.Time(time.Now().Add(time.Hour)),
		},
	}, nil
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.S3.CredentialsResolver = Name
	cfg.Resolver.RoleSessionDuration = 30 * time.Minute
	cfg.Resolver.BucketRoles = map[string]string{
		"analytics": "arn:aws:iam::111111111111:role/analytics-reader",
		"uploads":   "arn:aws:iam::111111111111:role/uploads-writer",
	}
	cfg.Resolver.Properties = map[string]string{ExternalIDProperty: "tenant-42"}
	return cfg
}

func callFor(bucket string) resolver.Call {
	return resolver.NewRequestCall().
		SetBucket(bucket).
		SetResources(resolver.ResourcesForKey(resolver.Object, bucket, "k")).
		AddRequests(resolver.GetObject).
		Freeze()
}

func TestResolveAssumesBucketRole(t *testing.T) {
	client := newMockSTSClient()
	r := NewWithClient(testConfig(), &principal.Principal{Subject: "alice@example.com"}, client)

	provider := r.Resolve(callFor("analytics"))
	require.NotNil(t, provider)

	creds, err := provider.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ASIAarn:aws:iam::111111111111:role/analytics-reader", creds.AccessKeyID)

	input := <-client.inputs
	assert.Equal(t, "arn:aws:iam::111111111111:role/analytics-reader", *input.RoleArn)
	assert.Equal(t, "alice@example.com", *input.RoleSessionName)
	assert.Equal(t, "tenant-42", *input.ExternalId)
	assert.Equal(t, int32(1800), *input.DurationSeconds)
}

func TestResolveUnknownOrMissingBucket(t *testing.T) {
	r := NewWithClient(testConfig(), &principal.Principal{Subject: "alice"}, newMockSTSClient())

	assert.Nil(t, r.Resolve(callFor("other")))
	assert.Nil(t, r.Resolve(resolver.NewRequestCall()))
}

func TestResolveCachesProviderPerBucket(t *testing.T) {
	client := newMockSTSClient()
	r := NewWithClient(testConfig(), &principal.Principal{Subject: "alice"}, client)

	const workers = 32
	providers := make([]aws.CredentialsProvider, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bucket := "analytics"
			if i%2 == 1 {
				bucket = "uploads"
			}
			providers[i] = r.Resolve(callFor(bucket))
		}(i)
	}
	wg.Wait()

	for i := 2; i < workers; i++ {
		assert.Same(t, providers[i%2], providers[i])
	}
	assert.NotSame(t, providers[0], providers[1])

	// the credentials cache only calls STS once per bucket
	for _, p := range providers {
		_, err := p.Retrieve(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestFactoryContract(t *testing.T) {
	_, err := New(testConfig(), nil)
	assert.True(t, errors.Is(err, resolver.ErrContractMismatch))

	cfg := testConfig()
	cfg.Resolver.BucketRoles = map[string]string{}
	_, err = New(cfg, &principal.Principal{Subject: "alice"})
	assert.True(t, errors.Is(err, resolver.ErrNotInstantiable))
}

func TestLoadThroughRegistry(t *testing.T) {
	result := resolver.Load(testConfig(), &principal.Principal{Subject: "alice"})
	assert.Equal(t, resolver.OutcomeLoaded, result.Outcome)
	assert.IsType(t, &Resolver{}, result.Resolver)

	result = resolver.Load(testConfig(), nil)
	assert.Equal(t, resolver.OutcomeContractMismatch, result.Outcome)
	assert.Nil(t, result.Resolver)
}
