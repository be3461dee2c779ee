package envprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// EnvProviderName provides a name of Env provider
const EnvProviderName = "CredResolverEnvProvider"

var (
	// ErrAccessKeyIDNotFound is returned when the AWS Access Key ID can't be
	// found in the process's environment.
	ErrAccessKeyIDNotFound = errors.New("EnvAccessKeyNotFound: access key id not found in environment")

	// ErrSecretAccessKeyNotFound is returned when the AWS Secret Access Key
	// can't be found in the process's environment.
	ErrSecretAccessKeyNotFound = errors.New("EnvSecretNotFound: secret access key not found in environment")
)

// A EnvProvider retrieves credentials from prefixed environment variables of
// the running process, so that several credential sets can live side by side.
//
// Environment variables used, for prefix UPLOADS:
//
// * Access Key ID:     UPLOADS_AWS_ACCESS_KEY_ID or UPLOADS_AWS_ACCESS_KEY
//
// * Secret Access Key: UPLOADS_AWS_SECRET_ACCESS_KEY or UPLOADS_AWS_SECRET_KEY
//
// * Session Token:     UPLOADS_AWS_SESSION_TOKEN
//
// An empty prefix reads the unprefixed AWS_* variables.
type EnvProvider struct {
	Prefix string
}

func New(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: strings.TrimSuffix(strings.ToUpper(prefix), "_")}
}

func (e *EnvProvider) names(suffixes ...string) []string {
	names := make([]string, 0, len(suffixes))
	for _, suffix := range suffixes {
		if e.Prefix == "" {
			names = append(names, suffix)
		} else {
			names = append(names, e.Prefix+"_"+suffix)
		}
	}
	return names
}

// Retrieve retrieves the keys from the environment.
func (e *EnvProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	slog.Debug("Retrieving AWS credentials from environment", "prefix", e.Prefix)

	//assign id from env vars
	idEnvVars := e.names("AWS_ACCESS_KEY_ID", "AWS_ACCESS_KEY")
	id, err := assignEnv(idEnvVars)
	if err != nil {
		slog.Error("AWS access key ID not found in environment",
			"searchedVars", idEnvVars)
		return aws.Credentials{}, fmt.Errorf("%w: searched %v", ErrAccessKeyIDNotFound, idEnvVars)
	}

	//assign secret from env vars
	secretEnvVars := e.names("AWS_SECRET_ACCESS_KEY", "AWS_SECRET_KEY")
	secret, err := assignEnv(secretEnvVars)
	if err != nil {
		slog.Error("AWS secret access key not found in environment",
			"searchedVars", secretEnvVars)
		return aws.Credentials{}, fmt.Errorf("%w: searched %v", ErrSecretAccessKeyNotFound, secretEnvVars)
	}

	sessionToken := os.Getenv(e.names("AWS_SESSION_TOKEN")[0])

	slog.Debug("AWS credentials successfully retrieved from environment", "prefix", e.Prefix)

	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    sessionToken,
		Source:          EnvProviderName,
	}, nil
}

// Assign first non-nil env var
func assignEnv(envVars []string) (string, error) {
	for _, envVar := range envVars {
		if value, ok := os.LookupEnv(envVar); ok && value != "" {
			return value, nil
		}
	}
	return "", errors.New("not found")
}
