package authclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrUnauthorized matches a *StatusError carrying HTTP 401.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend responded %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// epochSeconds decodes a timestamp sent either as a JSON number or a numeric string.
type epochSeconds int64

func (e *epochSeconds) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if raw == "null" {
		*e = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw == "" {
			*e = 0
			return nil
		}
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("expires_at: %w", err)
	}
	*e = epochSeconds(seconds)
	return nil
}
