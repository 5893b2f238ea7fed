package models

import "time"

// Secret is the plaintext credential payload for one provider account.
// It exists only in process memory; at rest it is stored as the encrypted
// blob inside a CredentialRecord.
type Secret struct {
	// OAuth providers
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Expiry       *time.Time `json:"expiry,omitempty"`
	AccountID    string     `json:"account_id,omitempty"`
	Email        string     `json:"email,omitempty"`

	// Direct-device providers
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// CredentialRecord is the at-rest form of a credential: ciphertext plus
// the metadata needed to decrypt and to route requests. The plaintext
// secret never persists outside process memory.
type CredentialRecord struct {
	Provider   ProviderKind `json:"provider" badgerhold:"index"`
	AccountKey string       `json:"account_key"`
	Ciphertext []byte       `json:"ciphertext"`
	Nonce      []byte       `json:"nonce"`
	// KeyID identifies the master key that produced Ciphertext, so a
	// rotated key is detected as corruption instead of a garbled secret.
	KeyID string `json:"key_id"`
	// Expiry mirrors the access-token expiry for OAuth providers so the
	// flow engine can decide on refresh without decrypting.
	Expiry *time.Time `json:"expiry,omitempty"`
	// Device connection, digest-auth providers only.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialKey returns the storage key for a (provider, accountKey) pair.
func CredentialKey(provider ProviderKind, accountKey string) string {
	return string(provider) + "/" + accountKey
}
