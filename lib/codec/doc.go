// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR encoding configuration for
// session envelopes.
//
// The encoder uses Core Deterministic Encoding, so the same logical
// envelope always produces identical bytes. Types implementing
// encoding.TextMarshaler (such as jid.JID) serialize as CBOR text
// strings.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types that only travel as CBOR carry `cbor` struct tags. Never put
// both `cbor` and `json` tags on one field.
package codec
