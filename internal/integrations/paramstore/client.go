package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound is returned when the parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is what consumers depend on, so they stay testable without AWS.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter returns the decrypted value of name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Secrets are the values the bot may keep in Parameter Store instead of env.
type Secrets struct {
	PartnerKey     string
	WebhookSecret  string
	OpenAIAPIKey   string
	AdminJWTSecret string
	AdminPassword  string
}

// secretNames maps parameter names under the prefix to Secrets fields.
var secretNames = []struct {
	name string
	set  func(*Secrets, string)
}{
	{"partner-key", func(s *Secrets, v string) { s.PartnerKey = v }},
	{"webhook-secret", func(s *Secrets, v string) { s.WebhookSecret = v }},
	{"openai-api-key", func(s *Secrets, v string) { s.OpenAIAPIKey = v }},
	{"admin-jwt-secret", func(s *Secrets, v string) { s.AdminJWTSecret = v }},
	{"admin-password", func(s *Secrets, v string) { s.AdminPassword = v }},
}

// LoadSecrets reads every known secret under prefix. Missing parameters are
// left empty; any other failure aborts.
func LoadSecrets(ctx context.Context, getter Getter, prefix string) (Secrets, error) {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return Secrets{}, errors.New("paramstore: prefix must not be empty")
	}

	var s Secrets
	for _, item := range secretNames {
		value, err := getter.GetParameter(ctx, prefix+"/"+item.name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Secrets{}, err
		}
		item.set(&s, strings.TrimSpace(value))
	}
	return s, nil
}
