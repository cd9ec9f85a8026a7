package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/caesar-terminal/bridge/internal/adapter"
	"github.com/caesar-terminal/bridge/internal/kms"
)

// Decrypter turns a ciphertext blob into plaintext. Satisfied by
// *kms.Client.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// File is the on-disk credential layout:
//
//	account: main
//	max_notional: "250000"
//	credentials:
//	  OKX_API_KEY: 5137e278-...
//	  OKX_API_SECRET: kms:AQICAHh...
//	  OKX_API_PASSPHRASE: kms:AQICAHh...
type File struct {
	Account     string            `yaml:"account"`
	MaxNotional string            `yaml:"max_notional"`
	Credentials map[string]string `yaml:"credentials"`
}

// LoadFile reads a credential file and decrypts every "kms:" value with
// dec. dec may be nil when the file holds no encrypted values.
func LoadFile(ctx context.Context, path string, dec Decrypter) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("vault: parse %s: %w", path, err)
	}
	if len(f.Credentials) == 0 {
		return nil, fmt.Errorf("vault: %s has no credentials", path)
	}

	for name, value := range f.Credentials {
		if !strings.HasPrefix(value, kms.SealedPrefix) {
			continue
		}
		if dec == nil {
			return nil, fmt.Errorf("vault: %s is encrypted but no decrypter is configured", name)
		}
		blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, kms.SealedPrefix))
		if err != nil {
			return nil, fmt.Errorf("vault: %s: invalid ciphertext encoding: %w", name, err)
		}
		plain, err := dec.Decrypt(ctx, blob)
		if err != nil {
			return nil, fmt.Errorf("vault: %s: %w", name, err)
		}
		f.Credentials[name] = string(plain)
	}
	return &f, nil
}

// CredentialSet returns the decrypted credentials.
func (f *File) CredentialSet() adapter.CredentialSet {
	return adapter.CredentialSet(f.Credentials)
}

// Limit parses MaxNotional. An empty value means no limit.
func (f *File) Limit() (decimal.Decimal, error) {
	if f.MaxNotional == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(f.MaxNotional)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("vault: invalid max_notional %q", f.MaxNotional)
	}
	return d, nil
}
