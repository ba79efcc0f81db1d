package tokens

import (
	"encoding/json"
	"fmt"
	"time"
)

// payload is the persisted representation of a Set.
// Authenticated is null while the state is unknown.
type payload struct {
	AccessToken   string `json:"accessToken,omitempty"`
	RefreshToken  string `json:"refreshToken,omitempty"`
	Authenticated *bool  `json:"authenticated"`
	ExpiresAt     string `json:"expiresAt"`
}

// MarshalJSON implements json.Marshaler. ExpiresAt is written as ISO-8601 in UTC.
func (s *Set) MarshalJSON() ([]byte, error) {
	p := payload{
		AccessToken:  s.accessToken,
		RefreshToken: s.refreshToken,
		ExpiresAt:    s.expiresAt.UTC().Format(time.RFC3339Nano),
	}
	if authenticated, known := s.Authenticated(); known {
		p.Authenticated = &authenticated
	}
	return json.Marshal(p)
}

// Parse decodes a persisted Set, validating it the same way New does.
func Parse(data []byte) (*Set, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding token set: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, p.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: expiresAt: %w", ErrInvalidTokenSet, err)
	}

	state := StateUnknown
	if p.Authenticated != nil {
		state = StateUnauthenticated
		if *p.Authenticated {
			state = StateAuthenticated
		}
	}

	return New(Params{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		State:        state,
		ExpiresAt:    expiresAt,
	})
}
