// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/authd/internal/auth"
)

// TestingT is the subset of *testing.T the constructors need.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(t TestingT, m *mock.Mock) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// MockCredentialStore mocks auth.CredentialStore.
type MockCredentialStore struct {
	mock.Mock
}

// NewMockCredentialStore creates a mock that asserts its expectations on cleanup.
func NewMockCredentialStore(t TestingT) *MockCredentialStore {
	m := &MockCredentialStore{}
	register(t, &m.Mock)
	return m
}

func identityResult(ret mock.Arguments) (*auth.Identity, error) {
	var identity *auth.Identity
	if v := ret.Get(0); v != nil {
		identity = v.(*auth.Identity)
	}
	return identity, ret.Error(1)
}

// FindByEmail mocks CredentialStore.FindByEmail.
func (m *MockCredentialStore) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	return identityResult(m.Called(ctx, email))
}

// FindByEmailAndCode mocks CredentialStore.FindByEmailAndCode.
func (m *MockCredentialStore) FindByEmailAndCode(ctx context.Context, email, codeHash string, now time.Time) (*auth.Identity, error) {
	return identityResult(m.Called(ctx, email, codeHash, now))
}

// FindByEmailAndToken mocks CredentialStore.FindByEmailAndToken.
func (m *MockCredentialStore) FindByEmailAndToken(ctx context.Context, email, tokenHash string, now time.Time) (*auth.Identity, error) {
	return identityResult(m.Called(ctx, email, tokenHash, now))
}

// Create mocks CredentialStore.Create.
func (m *MockCredentialStore) Create(ctx context.Context, identity *auth.Identity) error {
	return m.Called(ctx, identity).Error(0)
}

// Save mocks CredentialStore.Save.
func (m *MockCredentialStore) Save(ctx context.Context, identity *auth.Identity) error {
	return m.Called(ctx, identity).Error(0)
}

// UpdatePasswordHash mocks CredentialStore.UpdatePasswordHash.
func (m *MockCredentialStore) UpdatePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, updatedAt time.Time) error {
	return m.Called(ctx, id, oldHash, newHash, updatedAt).Error(0)
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	register(t, &m.Mock)
	return m
}

// Hash mocks PasswordHasher.Hash.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	ret := m.Called(password)
	return ret.String(0), ret.Error(1)
}

// Verify mocks PasswordHasher.Verify.
func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	ret := m.Called(password, hash)
	return ret.Bool(0), ret.Error(1)
}

// NeedsUpgrade mocks PasswordHasher.NeedsUpgrade.
func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// MockSessionIssuer mocks auth.SessionIssuer.
type MockSessionIssuer struct {
	mock.Mock
}

// NewMockSessionIssuer creates a mock that asserts its expectations on cleanup.
func NewMockSessionIssuer(t TestingT) *MockSessionIssuer {
	m := &MockSessionIssuer{}
	register(t, &m.Mock)
	return m
}

// Issue mocks SessionIssuer.Issue.
func (m *MockSessionIssuer) Issue(ctx context.Context, identityID ulid.ULID) (auth.Credential, error) {
	ret := m.Called(ctx, identityID)
	cred, _ := ret.Get(0).(auth.Credential)
	return cred, ret.Error(1)
}

// MockSecretGenerator mocks auth.SecretGenerator.
type MockSecretGenerator struct {
	mock.Mock
}

// NewMockSecretGenerator creates a mock that asserts its expectations on cleanup.
func NewMockSecretGenerator(t TestingT) *MockSecretGenerator {
	m := &MockSecretGenerator{}
	register(t, &m.Mock)
	return m
}

// GenerateCode mocks SecretGenerator.GenerateCode.
func (m *MockSecretGenerator) GenerateCode() (string, error) {
	ret := m.Called()
	return ret.String(0), ret.Error(1)
}

// GenerateToken mocks SecretGenerator.GenerateToken.
func (m *MockSecretGenerator) GenerateToken() (string, error) {
	ret := m.Called()
	return ret.String(0), ret.Error(1)
}

// MockNotifier mocks auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a mock that asserts its expectations on cleanup.
func NewMockNotifier(t TestingT) *MockNotifier {
	m := &MockNotifier{}
	register(t, &m.Mock)
	return m
}

// SendRecoveryCode mocks Notifier.SendRecoveryCode.
func (m *MockNotifier) SendRecoveryCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	return m.Called(ctx, email, code, expiresAt).Error(0)
}

// MockAttemptLimiter mocks auth.AttemptLimiter.
type MockAttemptLimiter struct {
	mock.Mock
}

// NewMockAttemptLimiter creates a mock that asserts its expectations on cleanup.
func NewMockAttemptLimiter(t TestingT) *MockAttemptLimiter {
	m := &MockAttemptLimiter{}
	register(t, &m.Mock)
	return m
}

// Allow mocks AttemptLimiter.Allow.
func (m *MockAttemptLimiter) Allow(ctx context.Context, operation, email string) error {
	return m.Called(ctx, operation, email).Error(0)
}

var (
	_ auth.CredentialStore = (*MockCredentialStore)(nil)
	_ auth.PasswordHasher  = (*MockPasswordHasher)(nil)
	_ auth.SessionIssuer   = (*MockSessionIssuer)(nil)
	_ auth.SecretGenerator = (*MockSecretGenerator)(nil)
	_ auth.Notifier        = (*MockNotifier)(nil)
	_ auth.AttemptLimiter  = (*MockAttemptLimiter)(nil)
)
