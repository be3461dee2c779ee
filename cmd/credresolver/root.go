package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/diggerhq/credresolver/config"
	"github.com/diggerhq/credresolver/log"
	"github.com/diggerhq/credresolver/principal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// session is what every command works with once the root pre-run is done.
type session struct {
	cfg       *config.Config
	principal *principal.Principal
}

// flag name -> config key
var configFlags = []struct {
	flag pflag.Flag
	key  string
}{
	{flag: pflag.Flag{Name: "resolver", Usage: "name of the registered credentials resolver"}, key: "s3.credentials_resolver"},
	{flag: pflag.Flag{Name: "region", Usage: "AWS region of the S3 client"}, key: "s3.region"},
	{flag: pflag.Flag{Name: "rules-file", Usage: "rules file read by the rules resolver"}, key: "resolver.rules_file"},
	{flag: pflag.Flag{Name: "log-level", Usage: "debug, info, warn or error"}, key: "log.level"},
}

func newRootCmd() *cobra.Command {
	s := &session{}

	rootCmd := &cobra.Command{
		Use:           "credresolver",
		Short:         "Inspect which credentials S3 calls of a session resolve to",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().Bool("caller-identity", false, "derive the principal from STS GetCallerIdentity instead of the environment")
	for _, f := range configFlags {
		rootCmd.PersistentFlags().String(f.flag.Name, "", f.flag.Usage)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return s.load(cmd)
	}

	rootCmd.AddCommand(newCheckCmd(s), newResolveCmd(s), newKindsCmd())
	return rootCmd
}

func (s *session) load(cmd *cobra.Command) error {
	v := config.NewViper()
	for _, f := range configFlags {
		if err := v.BindPFlag(f.key, cmd.Flags().Lookup(f.flag.Name)); err != nil {
			return err
		}
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadViper(v, path)
	if err != nil {
		return err
	}
	log.Configure(cfg.Log)

	useSTS, _ := cmd.Flags().GetBool("caller-identity")
	p, err := loadPrincipal(cmd.Context(), cfg, useSTS)
	if err != nil {
		return err
	}

	s.cfg = cfg
	s.principal = p
	return nil
}

func loadPrincipal(ctx context.Context, cfg *config.Config, useSTS bool) (*principal.Principal, error) {
	if !useSTS {
		return principal.FromEnvironment()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not load aws config: %v", err)
	}
	return principal.FromCallerIdentity(ctx, sts.NewFromConfig(awsCfg))
}
