package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// SealedPrefix marks a credential file value as a base64 KMS ciphertext.
const SealedPrefix = "kms:"

// Client wraps the AWS KMS SDK to encrypt and decrypt exchange credentials.
type Client struct {
	kms   *kms.Client
	keyID string
}

// New creates a KMS Client. keyID is only needed for Seal. If
// localStackEndpoint is non-empty, the client targets that endpoint with
// dummy credentials. Otherwise it uses the AWS default credential chain.
func New(ctx context.Context, region, keyID, localStackEndpoint string) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))

	if localStackEndpoint != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}

	var kmsOpts []func(*kms.Options)
	if localStackEndpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(localStackEndpoint)
		})
	}

	return &Client{
		kms:   kms.NewFromConfig(cfg, kmsOpts...),
		keyID: keyID,
	}, nil
}

// Decrypt sends the ciphertext blob to KMS and returns the plaintext bytes.
// The caller is responsible for securing the returned bytes.
func (c *Client) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := c.kms.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt: %w", err)
	}
	return out.Plaintext, nil
}

// Seal encrypts plaintext under the configured key and returns it in the
// credential file form "kms:<base64>".
func (c *Client) Seal(ctx context.Context, plaintext []byte) (string, error) {
	if c.keyID == "" {
		return "", errors.New("kms: no key id configured")
	}
	out, err := c.kms.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(c.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return "", fmt.Errorf("kms: encrypt: %w", err)
	}
	return SealedPrefix + base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}
