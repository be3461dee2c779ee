package principal

import (
	"context"
	"fmt"
	"log/slog"
	"os/user"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const maxSessionNameLength = 64

var sessionNameReplacer = regexp.MustCompile(`[^\w+=,.@-]`)

// Principal represents the identity a storage session runs as. It is handed to
// credential resolver factories together with the session configuration.
type Principal struct {
	Subject string   `env:"DIGGER_PRINCIPAL_SUBJECT"`
	Email   string   `env:"DIGGER_PRINCIPAL_EMAIL"`
	Roles   []string `env:"DIGGER_PRINCIPAL_ROLES" envSeparator:","`
	Groups  []string `env:"DIGGER_PRINCIPAL_GROUPS" envSeparator:","`
	Account string   `env:"DIGGER_PRINCIPAL_ACCOUNT"`
	ARN     string   `env:"DIGGER_PRINCIPAL_ARN"`
}

// CallerIdentityAPI is the part of the STS client used to discover the caller.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// FromEnvironment reads the principal from DIGGER_PRINCIPAL_* variables and
// falls back to the OS user for the subject.
func FromEnvironment() (*Principal, error) {
	var p Principal
	if err := env.Parse(&p); err != nil {
		return nil, fmt.Errorf("could not parse principal from environment: %v", err)
	}
	if p.Subject == "" {
		if u, err := user.Current(); err == nil {
			p.Subject = u.Username
		} else {
			slog.Warn("Could not determine current OS user", "error", err)
		}
	}
	return &p, nil
}

// FromCallerIdentity builds the principal from the STS identity of the
// credentials the session was configured with.
func FromCallerIdentity(ctx context.Context, client CallerIdentityAPI) (*Principal, error) {
	result, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get caller identity: %v", err)
	}

	p := &Principal{}
	if result.Account != nil {
		p.Account = *result.Account
	}
	if result.Arn != nil {
		p.ARN = *result.Arn
		p.Subject = p.ARN[strings.LastIndex(p.ARN, "/")+1:]
		if idx := strings.Index(p.ARN, ":assumed-role/"); idx >= 0 {
			parts := strings.Split(p.ARN[idx+len(":assumed-role/"):], "/")
			p.Roles = []string{parts[0]}
		}
	}
	if p.Subject == "" && result.UserId != nil {
		p.Subject = *result.UserId
	}

	slog.Debug("Resolved caller identity",
		"account", p.Account,
		"arn", p.ARN,
		"subject", p.Subject)
	return p, nil
}

// HasRole reports whether the principal carries role, matched exactly.
func (p *Principal) HasRole(role string) bool {
	return lo.Contains(p.Roles, role)
}

func (p *Principal) InGroup(group string) bool {
	return lo.Contains(p.Groups, group)
}

// SessionName returns a value valid as an STS role session name.
func (p *Principal) SessionName() string {
	name := sessionNameReplacer.ReplaceAllString(p.Subject, "-")
	if len(name) < 2 {
		name = "credresolver-" + uuid.NewString()
	}
	if len(name) > maxSessionNameLength {
		name = name[:maxSessionNameLength]
	}
	return name
}

func (p *Principal) String() string {
	if p.ARN != "" {
		return p.ARN
	}
	return p.Subject
}
