package token

import "time"

// Record is the credential pair for one authorized shop.
type Record struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ShopID       int64     `json:"shopId"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Valid reports whether the record holds an access token that has not expired at now.
func (r Record) Valid(now time.Time) bool {
	return r.AccessToken != "" && now.Before(r.ExpiresAt)
}

// State is the coarse token health reported by /status.
type State string

const (
	StateNoToken      State = "no_token"
	StateValid        State = "valid"
	StateExpiringSoon State = "expiring_soon"
	StateExpired      State = "expired"
)

// ExpiringSoonWindow marks a token as expiring_soon in status reports.
const ExpiringSoonWindow = time.Hour

// StateAt classifies the record at now.
func (r Record) StateAt(now time.Time) State {
	switch {
	case r.AccessToken == "":
		return StateNoToken
	case !now.Before(r.ExpiresAt):
		return StateExpired
	case r.ExpiresAt.Sub(now) < ExpiringSoonWindow:
		return StateExpiringSoon
	default:
		return StateValid
	}
}

// Status is the operator-facing snapshot of the token lifecycle.
type Status struct {
	State         State      `json:"tokenStatus"`
	Authorized    bool       `json:"authorized"`
	ShopID        int64      `json:"shopId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ExpiresIn     int64      `json:"expiresInSeconds,omitempty"`
	Degraded      bool       `json:"degraded"`
	LastRefreshAt *time.Time `json:"lastRefreshAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}
