package testutil

import (
	"cms-go/internal/cms"
	"cms-go/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() cms.Encryptor {
	return encryption.NewTestEncryptor()
}
