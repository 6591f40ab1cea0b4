package audit

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/dualauth/dualauth/internal/model"
)

const maxUsernameLength = 64

// ValidatePayload checks an event read back from the stream.
func ValidatePayload(p IssuedTokenPayload) error {
	if _, err := ulid.ParseStrict(p.ID); err != nil {
		return fmt.Errorf("id must be a ULID: %w", err)
	}
	if p.Username == "" {
		return errors.New("username is required")
	}
	if len(p.Username) > maxUsernameLength {
		return errors.New("username too long")
	}
	if !model.TokenKind(p.Kind).IsValid() {
		return fmt.Errorf("unknown token kind %q", p.Kind)
	}
	if p.TokenID == "" {
		return errors.New("jti is required")
	}
	if p.IssuedAt <= 0 {
		return errors.New("iat must be set")
	}
	if p.ExpiresAt <= p.IssuedAt {
		return errors.New("exp must be after iat")
	}
	return nil
}
