package main

import (
	"fmt"
	"strings"

	"github.com/diggerhq/credresolver/resolver"
	"github.com/diggerhq/credresolver/s3client"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const headConcurrency = 8

type resolveOptions struct {
	bucket string
	keys   []string
	prefix string
	kind   string
	source string
	ops    []string
	head   bool
}

func newResolveCmd(s *session) *cobra.Command {
	opts := &resolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which credentials provider a call would run with",
		Example: `  credresolver resolve --bucket analytics-eu --key raw/a.csv --op GetObject
  credresolver resolve --bucket uploads --prefix incoming/ --op ListObjectsV2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := opts.call()
			if err != nil {
				return err
			}

			result := resolver.Load(s.cfg, s.principal)
			provider := resolver.ResolveOrDefault(result.Resolver, call)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "call:     %s\n", call)
			if foreign := resolver.ForeignResources(call); len(foreign) > 0 {
				fmt.Fprintf(out, "foreign:  %v\n", foreign)
			}
			fmt.Fprintf(out, "resolver: %s (%s)\n", result.Name, result.Outcome)
			if provider == nil {
				fmt.Fprintln(out, "provider: default")
			} else {
				fmt.Fprintf(out, "provider: %T\n", provider)
			}

			if !opts.head {
				return nil
			}
			api, err := s3client.NewAPI(cmd.Context(), s.cfg)
			if err != nil {
				return err
			}
			client := s3client.New(api, result.Resolver)

			exists := make([]bool, len(opts.keys))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(headConcurrency)
			for i, key := range opts.keys {
				i, key := i, key
				g.Go(func() error {
					var err error
					exists[i], err = client.Exists(ctx, opts.bucket, key)
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			for i, key := range opts.keys {
				fmt.Fprintf(out, "s3://%s/%s exists: %v\n", opts.bucket, key, exists[i])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "bucket of the call")
	cmd.Flags().StringSliceVar(&opts.keys, "key", nil, "object key, repeatable")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "key prefix, for list calls")
	cmd.Flags().StringVar(&opts.kind, "type", "", "resource type of the keys: OBJECT (default), PREFIX or BUCKET")
	cmd.Flags().StringVar(&opts.source, "source", "", "copy source as bucket/key, added as a second resource")
	cmd.Flags().StringSliceVar(&opts.ops, "op", nil, "S3 operation name such as GetObject, repeatable")
	cmd.Flags().BoolVar(&opts.head, "head", false, "run HeadObject for every key with the resolved credentials")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}

func (o *resolveOptions) call() (resolver.Call, error) {
	if o.prefix != "" && len(o.keys) > 0 {
		return nil, fmt.Errorf("--key and --prefix are mutually exclusive")
	}

	keyType := resolver.Object
	if o.kind != "" {
		parsed, ok := resolver.ParseResourceType(strings.ToUpper(o.kind))
		if !ok {
			return nil, fmt.Errorf("unknown resource type %q, expected OBJECT, PREFIX or BUCKET", o.kind)
		}
		keyType = parsed
	}

	call := resolver.NewRequestCall().SetBucket(o.bucket)
	switch {
	case len(o.keys) > 0:
		call.SetResources(resolver.ResourcesForKeys(keyType, o.bucket, o.keys))
	case o.prefix != "":
		call.SetResources(resolver.ResourcesForKey(resolver.Prefix, o.bucket, o.prefix))
	default:
		call.SetResources(resolver.ResourcesForBucket(resolver.Bucket, o.bucket))
	}

	if o.source != "" {
		source, ok := s3client.ParseCopySource(o.source)
		if !ok {
			return nil, fmt.Errorf("invalid --source %q, expected bucket/key", o.source)
		}
		call.AddResources(source)
	}

	for _, op := range o.ops {
		kind, ok := resolver.MapRequestKind(op)
		if !ok {
			return nil, fmt.Errorf("unknown S3 operation %q, see the kinds command", op)
		}
		call.AddRequests(kind)
	}
	return call.Freeze(), nil
}
