package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/diggerhq/credresolver/resolver"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const (
	SourceRole    = "role"
	SourceEnv     = "env"
	SourceStatic  = "static"
	SourceProfile = "profile"
)

type RulesYaml struct {
	Sources map[string]*SourceYaml `yaml:"sources"`
	Rules   []*RuleYaml            `yaml:"rules"`
}

type SourceYaml struct {
	Type            string `yaml:"type"`
	RoleArn         string `yaml:"role_arn,omitempty"`
	ExternalId      string `yaml:"external_id,omitempty"`
	SessionName     string `yaml:"session_name,omitempty"`
	EnvPrefix       string `yaml:"env_prefix,omitempty"`
	AccessKeyId     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token,omitempty"`
	Profile         string `yaml:"profile,omitempty"`
}

type RuleYaml struct {
	Name     string   `yaml:"name"`
	Buckets  []string `yaml:"buckets,omitempty"`
	Paths    []string `yaml:"paths,omitempty"`
	Access   []string `yaml:"access,omitempty"`
	Requests []string `yaml:"requests,omitempty"`
	Roles    []string `yaml:"roles,omitempty"`
	Groups   []string `yaml:"groups,omitempty"`
	Source   string   `yaml:"source"`
}

// LoadRulesYaml reads and validates a rules file.
func LoadRulesYaml(fileName string) (*RulesYaml, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file '%s': %v", fileName, err)
	}
	return ParseRulesYaml(data, fileName)
}

func ParseRulesYaml(data []byte, fileName string) (*RulesYaml, error) {
	rulesYaml := &RulesYaml{}
	if err := yaml.Unmarshal(data, rulesYaml); err != nil {
		return nil, fmt.Errorf("error parsing '%s': %v", fileName, err)
	}
	if err := ValidateRulesYaml(rulesYaml); err != nil {
		return nil, fmt.Errorf("invalid rules in '%s': %w", fileName, err)
	}
	return rulesYaml, nil
}

// ValidateRulesYaml reports every problem in the file at once.
func ValidateRulesYaml(rulesYaml *RulesYaml) error {
	var result *multierror.Error

	for name, source := range rulesYaml.Sources {
		if source == nil {
			result = multierror.Append(result, fmt.Errorf("source %s is empty", name))
			continue
		}
		if err := source.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("source %s: %v", name, err))
		}
	}

	for i, rule := range rulesYaml.Rules {
		if rule == nil {
			result = multierror.Append(result, fmt.Errorf("rule %d is empty", i))
			continue
		}
		name := rule.displayName(i)
		if rule.Source == "" {
			result = multierror.Append(result, fmt.Errorf("rule %s has no source", name))
		} else if _, ok := rulesYaml.Sources[rule.Source]; !ok {
			result = multierror.Append(result, fmt.Errorf("rule %s references unknown source %s", name, rule.Source))
		}
		for _, pattern := range append(append([]string{}, rule.Buckets...), rule.Paths...) {
			if !doublestar.ValidatePattern(pattern) {
				result = multierror.Append(result, fmt.Errorf("rule %s has invalid pattern %q", name, pattern))
			}
		}
		for _, access := range rule.Access {
			if _, ok := resolver.ParseAccessLevel(access); !ok {
				result = multierror.Append(result, fmt.Errorf("rule %s has unknown access level %q", name, access))
			}
		}
		for _, request := range rule.Requests {
			if !resolver.RequestKind(request).Valid() {
				result = multierror.Append(result, fmt.Errorf("rule %s has unknown request kind %q", name, request))
			}
		}
	}

	return result.ErrorOrNil()
}

func (s *SourceYaml) validate() error {
	switch s.Type {
	case SourceRole:
		if !strings.HasPrefix(s.RoleArn, "arn:") {
			return fmt.Errorf("role_arn must be a role ARN, got %q", s.RoleArn)
		}
	case SourceEnv:
		if s.EnvPrefix == "" {
			return fmt.Errorf("env_prefix is required")
		}
	case SourceStatic:
		if s.AccessKeyId == "" || s.SecretAccessKey == "" {
			return fmt.Errorf("access_key_id and secret_access_key are required")
		}
	case SourceProfile:
		if s.Profile == "" {
			return fmt.Errorf("profile is required")
		}
	default:
		return fmt.Errorf("unknown source type %q, expected one of %s, %s, %s, %s", s.Type, SourceRole, SourceEnv, SourceStatic, SourceProfile)
	}
	return nil
}

func (r *RuleYaml) displayName(i int) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("#%d", i)
}
