package config

import "time"

const (
	tokenSecretVar = "TOKEN_SECRET"
	stateMaxAgeVar = "STATE_MAX_AGE"
)

type SecurityConfig interface {
	GetTokenSecret() string
	GetStateMaxAge() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetTokenSecret is the passphrase stored tokens are encrypted under. It has
// no default; persistence is refused without one.
func (Security) GetTokenSecret() string {
	return GetEnv(tokenSecretVar, "")
}

// GetStateMaxAge bounds how long a /connect state stays redeemable.
func (Security) GetStateMaxAge() time.Duration {
	return GetEnvDuration(stateMaxAgeVar, 10*time.Minute)
}
