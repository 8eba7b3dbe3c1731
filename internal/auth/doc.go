// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements account registration, login and password
// recovery.
//
// # Recovery
//
// An Identity moves through three recovery states:
//
//	Idle --ForgotPassword--> CodeIssued --VerifyOTP--> TokenIssued --ResetPassword--> Idle
//
// ForgotPassword from any state replaces whatever secret is pending. Codes
// and tokens are stored as SHA-256 digests with an absolute expiry, and a
// CredentialStore only matches them while the expiry is in the future.
// A SweepWorker clears expired digests from storage.
//
// Login's hash upgrade goes through UpdatePasswordHash, which swaps only
// the password hash and only if it is unchanged, so a concurrent reset is
// never rolled back.
//
// # Errors
//
// Service methods return errors wrapping one of the Err* sentinels. KindOf
// maps an error to its outward Kind; anything unrecognized is
// KindServiceUnavailable.
//
// # Collaborators
//
// Service takes a CredentialStore, PasswordHasher and SessionIssuer. The
// SecretGenerator, Notifier and AttemptLimiter have working defaults.
package auth
