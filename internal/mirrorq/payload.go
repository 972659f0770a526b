package mirrorq

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload = errors.New("invalid mirror payload")
)

// Payload is one pending mirror write: the exact record the secondary store
// should have received at registration time, plus retry bookkeeping.
type Payload struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	Attempt      int    `json:"attempt"`
}

func (p Payload) Validate() error {
	if p.Email == "" {
		return fmt.Errorf("%w: missing email", ErrInvalidPayload)
	}
	if p.PasswordHash == "" {
		return fmt.Errorf("%w: missing password hash", ErrInvalidPayload)
	}
	return nil
}

func EncodePayload(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b, err := json.Marshal(p)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return b, nil
}

// DecodePayload unmarshals a queued entry back into a typed payload.
func DecodePayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, ErrInvalidPayload
	}

	var p Payload

	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if err := p.Validate(); err != nil {
		return Payload{}, err
	}

	return p, nil
}
