package models

import (
	"slices"
	"time"
)

// CredentialRecord is a serializable snapshot of an OAuth credential.
// Field names follow Google's authorized_user credential layout so a
// stored record can be handed to Google client libraries unchanged.
type CredentialRecord struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// Clone returns a deep copy of the record.
func (c CredentialRecord) Clone() CredentialRecord {
	out := c
	out.Scopes = slices.Clone(c.Scopes)

	return out
}

// Identity is the display information for an OAuth user.
type Identity struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// PlaceholderIdentity is shown when the identity endpoint cannot be
// reached. Identity is cosmetic and never used for authorization.
var PlaceholderIdentity = Identity{
	Email: "unknown",
	Name:  "Google user",
}
