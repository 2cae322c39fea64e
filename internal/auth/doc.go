// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements account registration, login, password recovery and
// bearer token resolution.
//
// # Domain Types
//
// Accounts should be created with NewAccount, which validates the username
// and normalizes the email. Repository implementations receive
// pre-validated accounts.
//
// # Recovery Flow
//
// Recovery is two-phase:
//   - RequestReset stores the hash of a fresh recovery code and queues it for email
//   - VerifyRecoveryCode exchanges the code for a short-lived recovery token
//   - SetNewPassword redeems the token, updating the password and clearing
//     the code in a single conditional write
//
// Issuing a new code invalidates the previous code and any recovery token
// minted from it.
//
// # Errors
//
// Service methods return oops errors wrapping one of the sentinel errors in
// errors.go. Use KindOf to map them onto a transport status.
package auth
