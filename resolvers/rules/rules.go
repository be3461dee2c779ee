// Package rules resolves credentials from an ordered list of rules read from
// resolver.rules_file. Each rule selects calls by bucket, resource path,
// access level, request kind and principal, and names the credentials source
// to use for them. The first matching rule wins.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/diggerhq/credresolver/config"
	"github.com/diggerhq/credresolver/principal"
	"github.com/diggerhq/credresolver/resolver"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Name is the value of s3.credentials_resolver selecting this resolver.
const Name = "rules"

const defaultSessionName = "credresolver"

var accessLevels = []resolver.AccessLevel{resolver.AccessRead, resolver.AccessList, resolver.AccessWrite, resolver.AccessAdmin}

var accessIndex = sync.OnceValues(func() (map[resolver.AccessLevel][]resolver.RequestKind, error) {
	index := make(map[resolver.AccessLevel][]resolver.RequestKind, len(accessLevels))
	for _, level := range accessLevels {
		kinds := resolver.RequestKindsWithAccess(level)
		if len(kinds) == 0 {
			return nil, fmt.Errorf("no request kinds with access level %s", level)
		}
		index[level] = kinds
	}
	return index, nil
})

func init() {
	resolver.RegisterWithInit(Name, func() error {
		_, err := accessIndex()
		return err
	}, New)
}

type rule struct {
	name    string
	buckets []string
	paths   []string
	// nil allows every request kind
	allowed map[resolver.RequestKind]struct{}
	roles   []string
	groups  []string
	source  string
}

type Resolver struct {
	rules     []rule
	providers map[string]aws.CredentialsProvider
	principal *principal.Principal
}

// New is the resolver.Factory for rules.
func New(cfg *config.Config, p *principal.Principal) (resolver.CredentialsResolver, error) {
	if cfg.Resolver.RulesFile == "" {
		return nil, errors.Wrap(resolver.ErrNotInstantiable, "rules resolver needs resolver.rules_file")
	}
	rulesYaml, err := LoadRulesYaml(cfg.Resolver.RulesFile)
	if err != nil {
		return nil, err
	}
	return NewFromYaml(context.Background(), cfg, p, rulesYaml)
}

// NewFromYaml compiles an already parsed rules file and builds the providers
// of every source a rule refers to.
func NewFromYaml(ctx context.Context, cfg *config.Config, p *principal.Principal, rulesYaml *RulesYaml, opts ...Option) (*Resolver, error) {
	if err := ValidateRulesYaml(rulesYaml); err != nil {
		return nil, err
	}
	index, err := accessIndex()
	if err != nil {
		return nil, err
	}

	builder := &sourceBuilder{cfg: cfg, sessionName: defaultSessionName}
	if p != nil {
		builder.sessionName = p.SessionName()
	}
	for _, opt := range opts {
		opt(builder)
	}

	r := &Resolver{
		rules:     make([]rule, 0, len(rulesYaml.Rules)),
		providers: make(map[string]aws.CredentialsProvider),
		principal: p,
	}
	for i, ry := range rulesYaml.Rules {
		r.rules = append(r.rules, compileRule(i, ry, index))
	}

	used := lo.Uniq(lo.Map(r.rules, func(rl rule, _ int) string { return rl.source }))
	for _, name := range used {
		provider, err := builder.build(ctx, name, rulesYaml.Sources[name])
		if err != nil {
			return nil, fmt.Errorf("could not build source %s: %w", name, err)
		}
		r.providers[name] = provider
	}
	for name := range rulesYaml.Sources {
		if !lo.Contains(used, name) {
			slog.Warn("Credentials source is not used by any rule", "source", name)
		}
	}
	if len(r.rules) == 0 {
		slog.Warn("Rules file has no rules, every call will use the default credentials chain",
			"rulesFile", cfg.Resolver.RulesFile)
	}

	slog.Info("Configured rules resolver",
		"rules", len(r.rules),
		"sources", len(r.providers))
	return r, nil
}

func compileRule(i int, ry *RuleYaml, index map[resolver.AccessLevel][]resolver.RequestKind) rule {
	compiled := rule{
		name:    ry.displayName(i),
		buckets: ry.Buckets,
		paths:   ry.Paths,
		roles:   ry.Roles,
		groups:  ry.Groups,
		source:  ry.Source,
	}

	var byAccess, byName map[resolver.RequestKind]struct{}
	if len(ry.Access) > 0 {
		byAccess = make(map[resolver.RequestKind]struct{})
		for _, access := range ry.Access {
			level, _ := resolver.ParseAccessLevel(access)
			for _, kind := range index[level] {
				byAccess[kind] = struct{}{}
			}
		}
	}
	if len(ry.Requests) > 0 {
		byName = make(map[resolver.RequestKind]struct{})
		for _, request := range ry.Requests {
			byName[resolver.RequestKind(request)] = struct{}{}
		}
	}

	switch {
	case byAccess != nil && byName != nil:
		compiled.allowed = make(map[resolver.RequestKind]struct{})
		for kind := range byName {
			if _, ok := byAccess[kind]; ok {
				compiled.allowed[kind] = struct{}{}
			}
		}
	case byAccess != nil:
		compiled.allowed = byAccess
	case byName != nil:
		compiled.allowed = byName
	}
	return compiled
}

func (r *Resolver) Resolve(call resolver.Call) aws.CredentialsProvider {
	for _, rl := range r.rules {
		if rl.matches(call, r.principal) {
			slog.Debug("Matched credentials rule",
				"rule", rl.name,
				"source", rl.source,
				"call", call.String())
			return r.providers[rl.source]
		}
	}
	slog.Debug("No credentials rule matched", "call", call.String())
	return nil
}

func (rl rule) matches(call resolver.Call, p *principal.Principal) bool {
	if len(rl.roles) > 0 || len(rl.groups) > 0 {
		if p == nil {
			return false
		}
		if !lo.ContainsBy(rl.roles, p.HasRole) && !lo.ContainsBy(rl.groups, p.InGroup) {
			return false
		}
	}

	if len(rl.buckets) > 0 && !matchAny(rl.buckets, call.BucketName()) {
		return false
	}

	if len(rl.paths) > 0 {
		resources := call.Resources()
		if len(resources) == 0 {
			return false
		}
		for _, resource := range resources {
			if !matchAny(rl.paths, resource.Path()) {
				return false
			}
		}
	}

	if rl.allowed != nil {
		requests := call.Requests()
		if len(requests) == 0 {
			return false
		}
		for _, request := range requests {
			if _, ok := rl.allowed[request]; !ok {
				return false
			}
		}
	}

	return true
}

func matchAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, value); err == nil && ok {
			return true
		}
	}
	return false
}
