package app

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/Tristan-Hancock/maya-web-sub000/app/config"
)

// secretKeyLen is the required byte length of both long-lived secrets:
// the anonymization salt and the handle sealing key.
const secretKeyLen = 32

// Secrets holds the two process-wide secrets. Populated once at
// startup and read-only afterwards, so it is safe to share without
// locking.
type Secrets struct {
	AnonSalt  []byte
	HandleKey []byte
}

// LoadSecrets populates the secret cache from AWS Secrets Manager when
// SECRETS_ARN is configured, or from the environment otherwise. Any
// missing or malformed secret is a startup failure, never a
// per-request one.
func LoadSecrets(ctx context.Context, cfg *config.Config) (*Secrets, error) {
	var saltRaw, keyRaw string

	if cfg.Secrets.ARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := secretsmanager.NewFromConfig(awsCfg)
		out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(cfg.Secrets.ARN),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch secret: %w", err)
		}
		var payload struct {
			AnonSalt  string `json:"anon_salt"`
			HandleKey string `json:"handle_key"`
		}
		if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &payload); err != nil {
			return nil, fmt.Errorf("secret payload is not valid JSON: %w", err)
		}
		saltRaw, keyRaw = payload.AnonSalt, payload.HandleKey
	} else {
		saltRaw, keyRaw = cfg.Secrets.AnonSalt, cfg.Secrets.HandleKey
	}

	salt, err := decodeSecret(saltRaw)
	if err != nil {
		return nil, fmt.Errorf("anon salt: %w", err)
	}
	key, err := decodeSecret(keyRaw)
	if err != nil {
		return nil, fmt.Errorf("handle key: %w", err)
	}

	return &Secrets{AnonSalt: salt, HandleKey: key}, nil
}

// decodeSecret accepts base64 (std or url-safe) or hex encodings and
// requires exactly secretKeyLen decoded bytes.
func decodeSecret(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("secret value missing")
	}
	for _, dec := range []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
		hex.DecodeString,
	} {
		if b, err := dec(encoded); err == nil {
			if len(b) != secretKeyLen {
				return nil, fmt.Errorf("secret must be %d bytes, got %d", secretKeyLen, len(b))
			}
			return b, nil
		}
	}
	return nil, fmt.Errorf("secret is neither base64 nor hex")
}
