// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed decrypts age-encrypted credential files
// (filippo.io/age) so the session password never has to sit on disk in
// plaintext.
//
// A password file whose name ends in ".age" is decrypted with the
// identities in an age identity file (the format written by age-keygen:
// one AGE-SECRET-KEY-1... per line, '#' comments allowed). Both binary
// and ASCII-armored ciphertext are accepted. Plaintext is returned in a
// [secret.Buffer] with surrounding whitespace trimmed.
//
// [Encrypt] and [GenerateKeypair] exist for provisioning and tests.
package sealed
