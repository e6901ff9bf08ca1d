// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"
)

// ReadFromPath reads a secret file into a Buffer, trimming surrounding
// whitespace. Reading from standard input is not supported: stdin
// carries the bridged stream.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "" || path == "-" {
		return nil, fmt.Errorf("secret: a file path is required, got %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	return FromTrimmed(data, path)
}

// FromTrimmed moves data, minus surrounding whitespace, into a Buffer
// and zeroes all of data. source names the origin in error messages.
func FromTrimmed(data []byte, source string) (*Buffer, error) {
	defer Zero(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: %s is empty", source)
	}
	return NewFromBytes(trimmed)
}
