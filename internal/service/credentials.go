package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
)

const (
	secretsKeyEnv     = "TA_SECRETS_ENCRYPTION_KEY"
	secretsPrevKeyEnv = "TA_SECRETS_ENCRYPTION_PREV_KEY"

	sealedEnc = "aes-gcm-v1"
	credsAAD  = "broker_credentials"
)

var ErrCredentialsSealed = errors.New("broker credentials cannot be opened with the configured keys")

type sealedValue struct {
	Enc   string `json:"enc"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// CredentialVault seals broker credentials at rest. Keys[0] seals; every key
// is tried when opening so a previous key keeps working during rotation.
type CredentialVault struct {
	Keys [][]byte
}

// CredentialVaultFromEnv reads the primary and previous keys from the environment.
func CredentialVaultFromEnv() *CredentialVault {
	v := &CredentialVault{}
	seen := map[string]struct{}{}
	for _, name := range []string{secretsKeyEnv, secretsPrevKeyEnv} {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		if key := parseSecretsKey(raw); len(key) > 0 {
			v.Keys = append(v.Keys, key)
		}
	}
	return v
}

func (v *CredentialVault) Seal(plain []byte) ([]byte, error) {
	if v == nil || len(v.Keys) == 0 {
		return plain, nil
	}
	gcm := newGCM(v.Keys[0])
	if gcm == nil {
		return nil, errors.New("invalid encryption key")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := gcm.Seal(nil, nonce, plain, []byte(credsAAD))
	return json.Marshal(sealedValue{
		Enc:   sealedEnc,
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(ct),
	})
}

// OpenCredentials returns the plaintext JSON. Values that are not sealed
// envelopes pass through unchanged.
func (v *CredentialVault) OpenCredentials(sealed []byte) (json.RawMessage, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	var payload sealedValue
	if err := json.Unmarshal(sealed, &payload); err != nil || payload.Enc != sealedEnc {
		return json.RawMessage(sealed), nil
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, err
	}
	if v != nil {
		for _, key := range v.Keys {
			gcm := newGCM(key)
			if gcm == nil {
				continue
			}
			if pt, err := gcm.Open(nil, nonce, ct, []byte(credsAAD)); err == nil {
				return json.RawMessage(pt), nil
			}
		}
	}
	return nil, ErrCredentialsSealed
}

func parseSecretsKey(k string) []byte {
	keyBytes, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		keyBytes = []byte(k)
	}
	switch n := len(keyBytes); {
	case n == 16 || n == 24 || n == 32:
	case n < 16:
		return nil
	case n < 24:
		keyBytes = keyBytes[:16]
	case n < 32:
		keyBytes = keyBytes[:24]
	default:
		keyBytes = keyBytes[:32]
	}
	return keyBytes
}

func newGCM(keyBytes []byte) cipher.AEAD {
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil
	}
	return gcm
}
