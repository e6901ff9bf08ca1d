// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jid handles the identifiers that name message senders and
// recipients: "local@domain", optionally narrowed to one connected
// endpoint with a "/resource" suffix.
//
// [Validate] and [Match] operate on raw strings received from the
// remote session and never fail: malformed or missing input is simply
// invalid or non-matching. [Parse] produces a structured [JID] for code
// that needs the individual parts, such as subject derivation.
//
// Matching rule: an expected identifier without a resource accepts the
// bare identifier and any of its resources; an expected identifier with
// a resource accepts only that exact resource.
package jid
