// Package models defines types shared across internal packages.
package models

import (
	"fmt"
	"slices"
	"time"
)

// OAuthStatus is the delegation state of an access record. The zero
// value is not a valid status; records always carry one of the four
// named states.
type OAuthStatus uint8

const (
	OAuthNotRequired OAuthStatus = iota + 1
	OAuthPending
	OAuthAuthorized
	OAuthConfigured
)

var oauthStatusNames = map[OAuthStatus]string{
	OAuthNotRequired: "not_required",
	OAuthPending:     "pending",
	OAuthAuthorized:  "authorized",
	OAuthConfigured:  "configured",
}

// oauthTransitions lists the permitted moves out of each status.
// not_required is terminal. Re-attaching credentials to an authorized
// or configured record keeps its status.
var oauthTransitions = map[OAuthStatus][]OAuthStatus{
	OAuthPending:    {OAuthAuthorized},
	OAuthAuthorized: {OAuthAuthorized, OAuthConfigured},
	OAuthConfigured: {OAuthConfigured},
}

func (s OAuthStatus) String() string {
	if name, ok := oauthStatusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("OAuthStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the named statuses.
func (s OAuthStatus) Valid() bool {
	_, ok := oauthStatusNames[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
func (s OAuthStatus) CanTransition(next OAuthStatus) bool {
	return slices.Contains(oauthTransitions[s], next)
}

// ServableStatus reports whether a record in this status may serve
// report data: either delegation was never required or the delegated
// scope has been configured.
func (s OAuthStatus) ServableStatus() bool {
	return s == OAuthNotRequired || s == OAuthConfigured
}

// MarshalText encodes the status as its snake_case name.
func (s OAuthStatus) MarshalText() ([]byte, error) {
	name, ok := oauthStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid oauth status %d", uint8(s))
	}

	return []byte(name), nil
}

// UnmarshalText rejects any name outside the closed set.
func (s *OAuthStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseOAuthStatus(string(b))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// ParseOAuthStatus converts a snake_case name to an OAuthStatus.
func ParseOAuthStatus(name string) (OAuthStatus, error) {
	for status, n := range oauthStatusNames {
		if n == name {
			return status, nil
		}
	}

	return 0, fmt.Errorf("unknown oauth status %q", name)
}

// MaxExpirationDays bounds how far past now a token deadline may be
// set, by creation or by extension.
const MaxExpirationDays = 36500

// AccessRecord is one issued dashboard access token.
type AccessRecord struct {
	Token                   string            `json:"token"`
	ClientName              string            `json:"client_name"`
	Notes                   string            `json:"notes"`
	ProjectID               string            `json:"project_id"`
	DatasetID               string            `json:"dataset_id"`
	AllowedReportCategories []string          `json:"allowed_report_categories"`
	CreatedAt               time.Time         `json:"created_at"`
	ExpirationDate          time.Time         `json:"expiration_date"`
	Active                  bool              `json:"active"`
	AccessCount             int64             `json:"access_count"`
	LastAccess              *time.Time        `json:"last_access"`
	OAuthStatus             OAuthStatus       `json:"oauth_status"`
	OAuthCredentials        *CredentialRecord `json:"oauth_credentials"`
	OAuthAuthorizedAt       *time.Time        `json:"oauth_authorized_at"`
	OAuthIdentity           string            `json:"oauth_identity,omitempty"`
}

// Servable reports whether the record may be used to run reports at
// the given instant.
func (r AccessRecord) Servable(now time.Time) bool {
	return r.Active &&
		now.Before(r.ExpirationDate) &&
		r.ProjectID != "" &&
		r.DatasetID != "" &&
		r.OAuthStatus.ServableStatus() &&
		len(r.AllowedReportCategories) > 0
}

// Expired reports whether the record's deadline has passed.
func (r AccessRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpirationDate)
}

// AllowsCategory reports whether the category is in the allowed set.
func (r AccessRecord) AllowsCategory(category string) bool {
	return slices.Contains(r.AllowedReportCategories, category)
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (r AccessRecord) Clone() AccessRecord {
	c := r
	c.AllowedReportCategories = slices.Clone(r.AllowedReportCategories)
	c.LastAccess = cloneTime(r.LastAccess)
	c.OAuthAuthorizedAt = cloneTime(r.OAuthAuthorizedAt)

	if r.OAuthCredentials != nil {
		cred := r.OAuthCredentials.Clone()
		c.OAuthCredentials = &cred
	}

	return c
}

// Stats summarizes the token table for the admin dashboard.
type Stats struct {
	Total         int   `json:"total"`
	Active        int   `json:"active"`
	Expired       int   `json:"expired"`
	Revoked       int   `json:"revoked"`
	TotalAccesses int64 `json:"total_accesses"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}
