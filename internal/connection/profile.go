// Package connection owns the single active remote connection of the process
// and decides which filesystem backend callers are routed to.
package connection

import (
	"github.com/charlesng35/sessionlens/internal/sshclient"
	apperrors "github.com/charlesng35/sessionlens/pkg/errors"
	"github.com/charlesng35/sessionlens/pkg/validator"
)

// Profile describes one remote target. Profiles are owned by the caller's
// storage and only read at connect time. Secrets are never serialised.
type Profile struct {
	ID             string               `json:"id,omitempty"`
	Name           string               `json:"name,omitempty"`
	Host           string               `json:"host" validate:"required"`
	Port           int                  `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username       string               `json:"username" validate:"required"`
	AuthMethod     sshclient.AuthMethod `json:"authMethod" validate:"required,oneof=password privateKey agent"`
	PrivateKeyPath string               `json:"privateKeyPath,omitempty"`

	Password   string `json:"-" validate:"required_if=AuthMethod password"`
	Passphrase string `json:"-"`
}

// Validate checks the profile before any network work is attempted.
func (p Profile) Validate() error {
	if err := validator.ValidateStruct(p); err != nil {
		return apperrors.ErrInvalidProfile.WithMessage("invalid connection profile").WithInternal(err)
	}
	return nil
}

// Target converts the profile into dial parameters.
func (p Profile) Target() sshclient.Target {
	return sshclient.Target{
		Host:           p.Host,
		Port:           p.Port,
		Username:       p.Username,
		AuthMethod:     p.AuthMethod,
		Password:       p.Password,
		PrivateKeyPath: p.PrivateKeyPath,
		Passphrase:     p.Passphrase,
	}
}
