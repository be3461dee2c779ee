package resolver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/diggerhq/credresolver/config"
	"github.com/diggerhq/credresolver/principal"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func configWithResolver(name string) *config.Config {
	cfg := config.New()
	cfg.S3.CredentialsResolver = name
	return cfg
}

// bucketResolver answers with a static provider whose key id is the bucket name.
type bucketResolver struct{}

func (bucketResolver) Resolve(call Call) aws.CredentialsProvider {
	if call.BucketName() == "" {
		return nil
	}
	return credentials.NewStaticCredentialsProvider(call.BucketName(), "secret", "")
}

func newBucketResolver(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error) {
	return bucketResolver{}, nil
}

func TestLoadDefaultSentinelSkipsLookup(t *testing.T) {
	for _, name := range []string{config.DefaultCredentialsResolver, ""} {
		t.Run(fmt.Sprintf("name %q", name), func(t *testing.T) {
			r := NewRegistry()
			r.Register("bucket", newBucketResolver)

			result := r.Load(configWithResolver(name), &principal.Principal{})

			assert.Equal(t, OutcomeDefault, result.Outcome)
			assert.Nil(t, result.Resolver)
			assert.NoError(t, result.Err)
			assert.False(t, result.Failed())
			assert.Equal(t, int64(0), r.lookups.Load())
		})
	}
}

func TestLoadOutcomes(t *testing.T) {
	boom := errors.New("boom")

	tests := map[string]struct {
		register     func(r *Registry)
		name         string
		nilPrincipal bool
		outcome      Outcome
		errIs        error
		logged       string
	}{
		"loaded": {
			register: func(r *Registry) { r.Register("bucket", newBucketResolver) },
			name:     "bucket",
			outcome:  OutcomeLoaded,
			logged:   "Loaded credentials resolver",
		},
		"not found": {
			register: func(r *Registry) { r.Register("bucket", newBucketResolver) },
			name:     "com.example.MissingResolver",
			outcome:  OutcomeNotFound,
			errIs:    ErrNotFound,
			logged:   "Credentials resolver not found",
		},
		"contract mismatch": {
			register: func(r *Registry) {
				r.Register("needs-principal", func(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error) {
					if p == nil {
						return nil, errors.Wrap(ErrContractMismatch, "principal is required")
					}
					return bucketResolver{}, nil
				})
			},
			name:         "needs-principal",
			nilPrincipal: true,
			outcome:      OutcomeContractMismatch,
			errIs:        ErrContractMismatch,
			logged:       FactorySignature,
		},
		"nil factory": {
			register: func(r *Registry) { r.Register("abstract", nil) },
			name:     "abstract",
			outcome:  OutcomeNotInstantiable,
			errIs:    ErrNotInstantiable,
			logged:   "only concrete implementations can be loaded",
		},
		"factory returns nothing": {
			register: func(r *Registry) {
				r.Register("empty", func(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error) {
					return nil, nil
				})
			},
			name:    "empty",
			outcome: OutcomeNotInstantiable,
			errIs:   ErrNotInstantiable,
		},
		"factory reports not instantiable": {
			register: func(r *Registry) {
				r.Register("base", func(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error) {
					return nil, errors.Wrap(ErrNotInstantiable, "base resolver needs a subtype")
				})
			},
			name:    "base",
			outcome: OutcomeNotInstantiable,
			errIs:   ErrNotInstantiable,
		},
		"constructor failure": {
			register: func(r *Registry) {
				r.Register("failing", func(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error) {
					return nil, boom
				})
			},
			name:    "failing",
			outcome: OutcomeConstructorFailed,
			errIs:   boom,
			logged:  "Credentials resolver constructor failed",
		},
		"init failure": {
			register: func(r *Registry) {
				r.RegisterWithInit("broken-init", func() error { return boom }, newBucketResolver)
			},
			name:    "broken-init",
			outcome: OutcomeInitFailed,
			errIs:   ErrInitFailed,
			logged:  "Failure occurred during initialization",
		},
		"init panic": {
			register: func(r *Registry) {
				r.RegisterWithInit("panicking-init", func() error { panic("bad init") }, newBucketResolver)
			},
			name:    "panicking-init",
			outcome: OutcomeInitFailed,
			errIs:   ErrInitFailed,
			logged:  "Failure occurred during initialization",
		},
		"constructor panic": {
			register: func(r *Registry) {
				r.Register("panicking", func(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error) {
					panic("nil map write")
				})
			},
			name:    "panicking",
			outcome: OutcomeConstructorFailed,
			logged:  "Credentials resolver constructor failed",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			logs := captureLogs(t)
			r := NewRegistry()
			tc.register(r)

			p := &principal.Principal{Subject: "alice"}
			if tc.nilPrincipal {
				p = nil
			}

			var result LoadResult
			require.NotPanics(t, func() {
				result = r.Load(configWithResolver(tc.name), p)
			})

			assert.Equal(t, tc.outcome, result.Outcome)
			assert.Equal(t, tc.name, result.Name)
			if tc.outcome == OutcomeLoaded {
				assert.NotNil(t, result.Resolver)
				assert.NoError(t, result.Err)
				assert.False(t, result.Failed())
			} else {
				assert.Nil(t, result.Resolver)
				assert.Error(t, result.Err)
				assert.True(t, result.Failed())
			}
			if tc.errIs != nil {
				assert.True(t, errors.Is(result.Err, tc.errIs), "%v is not %v", result.Err, tc.errIs)
			}
			if tc.logged != "" {
				assert.Contains(t, logs.String(), tc.logged)
			}
		})
	}
}

func TestLoadNilConfig(t *testing.T) {
	r := NewRegistry()
	result := r.Load(nil, &principal.Principal{})

	assert.Equal(t, OutcomeContractMismatch, result.Outcome)
	assert.Nil(t, result.Resolver)
	assert.True(t, errors.Is(result.Err, ErrContractMismatch))
}

func TestInitRunsOnceAndFailureIsSticky(t *testing.T) {
	var initCalls, factoryCalls int
	r := NewRegistry()
	r.RegisterWithInit("sticky",
		func() error {
			initCalls++
			return errors.New("missing index")
		},
		func(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error) {
			factoryCalls++
			return bucketResolver{}, nil
		})

	for i := 0; i < 3; i++ {
		result := r.Load(configWithResolver("sticky"), nil)
		assert.Equal(t, OutcomeInitFailed, result.Outcome)
	}
	assert.Equal(t, 1, initCalls)
	assert.Equal(t, 0, factoryCalls)
}

func TestPanicsAreClassifiedByPhase(t *testing.T) {
	r := NewRegistry()
	r.Register("panicking", func(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error) {
		panic("nil map write")
	})
	r.RegisterWithInit("panicking-init", func() error { panic("bad init") }, newBucketResolver)

	result := r.Load(configWithResolver("panicking"), nil)
	assert.Equal(t, OutcomeConstructorFailed, result.Outcome)
	assert.Nil(t, result.Resolver)
	assert.ErrorContains(t, result.Err, "nil map write")

	// a failed init stays failed, panic or not
	for i := 0; i < 2; i++ {
		result = r.Load(configWithResolver("panicking-init"), nil)
		assert.Equal(t, OutcomeInitFailed, result.Outcome)
		assert.True(t, errors.Is(result.Err, ErrInitFailed))
		assert.ErrorContains(t, result.Err, "bad init")
	}
}

func TestInitRunsBeforeFactory(t *testing.T) {
	var order []string
	r := NewRegistry()
	r.RegisterWithInit("ordered",
		func() error {
			order = append(order, "init")
			return nil
		},
		func(cfg *config.Config, p *principal.Principal) (CredentialsResolver, error) {
			order = append(order, "factory")
			return bucketResolver{}, nil
		})

	r.Load(configWithResolver("ordered"), nil)
	r.Load(configWithResolver("ordered"), nil)

	assert.Equal(t, []string{"init", "factory", "factory"}, order)
}

func TestRegisterRejectsReservedAndDuplicateNames(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() { r.Register(config.DefaultCredentialsResolver, newBucketResolver) })
	assert.Panics(t, func() { r.Register("", newBucketResolver) })

	r.Register("bucket", newBucketResolver)
	assert.Panics(t, func() { r.Register("bucket", newBucketResolver) })

	r.Register("another", newBucketResolver)
	assert.Equal(t, []string{"another", "bucket"}, r.Names())
}

func TestGetCredentialsResolver(t *testing.T) {
	Register("resolver-package-test", newBucketResolver)

	resolver := GetCredentialsResolver(configWithResolver("resolver-package-test"), &principal.Principal{})
	require.NotNil(t, resolver)

	assert.Nil(t, GetCredentialsResolver(configWithResolver("not-registered"), nil))
	assert.Nil(t, GetCredentialsResolver(config.New(), nil))
}

func TestResolveEmptyCall(t *testing.T) {
	r := NewRegistry()
	r.Register("bucket", newBucketResolver)
	resolver := r.Load(configWithResolver("bucket"), nil).Resolver
	require.NotNil(t, resolver)

	assert.NotPanics(t, func() {
		assert.Nil(t, resolver.Resolve(NewRequestCall()))
		assert.Nil(t, resolver.Resolve(NewRequestCall().Freeze()))
	})
}

func TestResolveOrDefault(t *testing.T) {
	call := NewRequestCall().SetBucket("b")

	assert.Nil(t, ResolveOrDefault(nil, call))

	panicking := ResolverFunc(func(call Call) aws.CredentialsProvider {
		panic("resolver bug")
	})
	assert.NotPanics(t, func() {
		assert.Nil(t, ResolveOrDefault(panicking, call))
	})

	assert.NotPanics(t, func() {
		assert.Nil(t, ResolveOrDefault(panicking, nil))
	})

	provider := ResolveOrDefault(bucketResolver{}, call)
	require.NotNil(t, provider)
	creds, err := provider.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", creds.AccessKeyID)
}

func TestConcurrentResolve(t *testing.T) {
	var resolver CredentialsResolver = bucketResolver{}

	const workers = 64
	calls := make([]Call, workers)
	expected := make([]string, workers)
	for i := range calls {
		bucket := fmt.Sprintf("bucket-%d", i)
		calls[i] = NewRequestCall().
			SetBucket(bucket).
			SetResources(ResourcesForKeys(Object, bucket, []string{"a", "b"})).
			AddRequests(GetObject).
			Freeze()
		creds, err := resolver.Resolve(calls[i]).Retrieve(context.Background())
		require.NoError(t, err)
		expected[i] = creds.AccessKeyID
	}

	actual := make([]string, workers)
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds, err := resolver.Resolve(calls[i]).Retrieve(context.Background())
			if err == nil {
				actual[i] = creds.AccessKeyID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, expected, actual)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "default", OutcomeDefault.String())
	assert.Equal(t, "contract-mismatch", OutcomeContractMismatch.String())
	assert.Equal(t, "Outcome(42)", Outcome(42).String())
}
