package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/notifyx/notifyx/internal/domain"
	"github.com/notifyx/notifyx/internal/infrastructure/crypto"
)

// CredentialService stores credentials encrypted at rest and decrypts
// secrets only for the duration of one adapter invocation. It satisfies
// the engine's CredentialSource and CredentialChecker contracts.
type CredentialService struct {
	repo       domain.CredentialRepository
	encryption *crypto.EncryptionService
}

// NewCredentialService creates a credential service.
func NewCredentialService(repo domain.CredentialRepository, encryption *crypto.EncryptionService) *CredentialService {
	return &CredentialService{repo: repo, encryption: encryption}
}

// Create encrypts and stores a new credential, returning its id.
func (s *CredentialService) Create(ctx context.Context, tenantID, connectorType, secret string, scopes []string) (string, error) {
	encrypted, err := s.encryption.Encrypt([]byte(secret))
	if err != nil {
		return "", err
	}
	c := domain.Credential{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		ConnectorType:   connectorType,
		EncryptedSecret: encrypted,
		Scopes:          scopes,
		CreatedAt:       time.Now(),
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return "", err
	}
	return c.ID, nil
}

// DecryptSecret loads and decrypts one credential's secret.
func (s *CredentialService) DecryptSecret(ctx context.Context, tenantID, credentialID string) (string, error) {
	c, err := s.repo.Get(ctx, tenantID, credentialID)
	if err != nil {
		return "", err
	}
	plaintext, err := s.encryption.Decrypt(c.EncryptedSecret)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// CredentialExists reports whether the credential resolves for the
// tenant.
func (s *CredentialService) CredentialExists(ctx context.Context, tenantID, credentialID string) bool {
	_, err := s.repo.Get(ctx, tenantID, credentialID)
	return err == nil
}

// Delete removes a credential.
func (s *CredentialService) Delete(ctx context.Context, tenantID, credentialID string) error {
	return s.repo.Delete(ctx, tenantID, credentialID)
}
