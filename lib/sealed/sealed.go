// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/linebridge/lib/secret"
)

// Extension marks a password file as age ciphertext.
const Extension = ".age"

// IsSealed reports whether path names an age-encrypted file.
func IsSealed(path string) bool {
	return strings.HasSuffix(path, Extension)
}

// Keypair is an age x25519 keypair. The caller must Close it.
type Keypair struct {
	// PrivateKey holds the AGE-SECRET-KEY-1... string.
	PrivateKey *secret.Buffer
	// PublicKey is the age1... recipient string.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair creates a new age x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating keypair: %w", err)
	}
	privateKey, err := secret.NewFromString(identity.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Encrypt encrypts plaintext to the given age1... recipients and
// returns binary age ciphertext. With armored set the output is the
// PEM-style ASCII armor instead.
func Encrypt(plaintext []byte, recipientKeys []string, armored bool) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("sealed: at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("sealed: parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var output bytes.Buffer
	var destination io.Writer = &output
	var armorWriter io.WriteCloser
	if armored {
		armorWriter = armor.NewWriter(&output)
		destination = armorWriter
	}

	writer, err := age.Encrypt(destination, recipients...)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing encryption: %w", err)
	}
	if armorWriter != nil {
		if err := armorWriter.Close(); err != nil {
			return nil, fmt.Errorf("sealed: finalizing armor: %w", err)
		}
	}
	return output.Bytes(), nil
}

// ReadIdentities parses an age identity file.
func ReadIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: opening identity file: %w", err)
	}
	defer file.Close()

	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing identity file %s: %w", path, err)
	}
	return identities, nil
}

// Decrypt decrypts binary or armored ciphertext with any of identities.
// The plaintext is trimmed of surrounding whitespace and moved into a
// secret.Buffer; an empty plaintext is an error.
func Decrypt(ciphertext []byte, identities ...age.Identity) (*secret.Buffer, error) {
	if len(identities) == 0 {
		return nil, fmt.Errorf("sealed: no identities to decrypt with")
	}

	source := bufio.NewReader(bytes.NewReader(ciphertext))
	var input io.Reader = source
	if start, _ := source.Peek(len(armor.Header)); string(start) == armor.Header {
		input = armor.NewReader(source)
	}

	reader, err := age.Decrypt(input, identities...)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return secret.FromTrimmed(plaintext, "decrypted plaintext")
}

// DecryptFile decrypts the age file at path with the identities in
// identityPath.
func DecryptFile(path, identityPath string) (*secret.Buffer, error) {
	if identityPath == "" {
		return nil, fmt.Errorf("sealed: %s is encrypted but no identity file is configured", path)
	}
	identities, err := ReadIdentities(identityPath)
	if err != nil {
		return nil, err
	}
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	return Decrypt(ciphertext, identities...)
}
