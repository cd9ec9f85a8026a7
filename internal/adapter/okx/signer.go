package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/caesar-terminal/bridge/internal/adapter"
)

// Auth header names.
const (
	HeaderAccessKey        = "OK-ACCESS-KEY"
	HeaderAccessSign       = "OK-ACCESS-SIGN"
	HeaderAccessTimestamp  = "OK-ACCESS-TIMESTAMP"
	HeaderAccessPassphrase = "OK-ACCESS-PASSPHRASE"
	HeaderSimulatedTrading = "x-simulated-trading"
)

const loginVerifyTarget = "/users/self/verify"

// Signer produces OKX authentication material. It stores credential field
// names only; secrets are read from the CredentialSet on each call.
type Signer struct {
	keyName        string
	secretName     string
	passphraseName string
	simulatedName  string
}

// NewSigner creates a Signer for the credential names in cfg.
func NewSigner(cfg Config) *Signer {
	return &Signer{
		keyName:        cfg.APIKeyName,
		secretName:     cfg.APISecretName,
		passphraseName: cfg.APIPassphraseName,
		simulatedName:  cfg.SimulatedTradingName,
	}
}

// Sign returns the auth headers for one REST request. The millisecond
// timestamp is formatted once and used for both the pre-signature string
// and the OK-ACCESS-TIMESTAMP header.
func (s *Signer) Sign(now time.Time, method, target, body string, creds adapter.CredentialSet) (http.Header, error) {
	key, secret, passphrase, err := s.lookup(creds)
	if err != nil {
		return nil, err
	}

	ts := strconv.FormatInt(now.UnixMilli(), 10)
	sig := computeHmacSha256(secret, PreSignature(ts, method, target, body))

	headers := http.Header{}
	headers.Set(HeaderAccessKey, key)
	headers.Set(HeaderAccessSign, sig)
	headers.Set(HeaderAccessTimestamp, ts)
	headers.Set(HeaderAccessPassphrase, passphrase)
	if creds[s.simulatedName] != "" {
		headers.Set(HeaderSimulatedTrading, "1")
	}
	return headers, nil
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

type loginRequest struct {
	Op   string     `json:"op"`
	Args []loginArg `json:"args"`
}

// LoginMessage builds the private-stream login frame. The stream expects a
// timestamp in seconds, signed as ts + "GET" + "/users/self/verify".
func (s *Signer) LoginMessage(now time.Time, creds adapter.CredentialSet) (string, error) {
	key, secret, passphrase, err := s.lookup(creds)
	if err != nil {
		return "", err
	}

	ts := strconv.FormatInt(now.Unix(), 10)
	return encode(loginRequest{
		Op: "login",
		Args: []loginArg{{
			APIKey:     key,
			Passphrase: passphrase,
			Timestamp:  ts,
			Sign:       computeHmacSha256(secret, PreSignature(ts, http.MethodGet, loginVerifyTarget, "")),
		}},
	})
}

// PreSignature concatenates the signed fields in wire order, without
// separators.
func PreSignature(timestamp, method, target, body string) string {
	return timestamp + method + target + body
}

// lookup fetches the three mandatory credentials. Absent and empty values
// are both rejected so a request is never signed with a blank key.
func (s *Signer) lookup(creds adapter.CredentialSet) (key, secret, passphrase string, err error) {
	for _, name := range []string{s.keyName, s.secretName, s.passphraseName} {
		if creds[name] == "" {
			return "", "", "", fmt.Errorf("%w: missing credential %s", adapter.ErrSigning, name)
		}
	}
	return creds[s.keyName], creds[s.secretName], creds[s.passphraseName], nil
}

func computeHmacSha256(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
