// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jid

import (
	"fmt"
	"strings"
)

// Validate reports whether s looks like an identifier: it must contain
// the '@' separating the local part from the domain. This is not a
// grammar check.
func Validate(s string) bool {
	return strings.IndexByte(s, '@') >= 0
}

// Match reports whether the observed sender identifier actual satisfies
// the expected identifier. An empty string on either side means the
// identifier is missing and never matches.
//
//	Match("a@b/res", "a@b/res") == true
//	Match("a@b/res", "a@b")     == true
//	Match("a@b", "a@b/res")     == false
func Match(actual, expected string) bool {
	if actual == "" || expected == "" {
		return false
	}
	if strings.IndexByte(expected, '/') >= 0 {
		return actual == expected
	}
	bare, _, _ := strings.Cut(actual, "/")
	return bare == expected
}

// JID is a parsed identifier. The zero value is not valid; use IsZero.
type JID struct {
	local    string
	domain   string
	resource string
}

// Parse splits "local@domain/resource". The resource begins at the
// first '/' and may itself contain '/'. Local part and domain must be
// non-empty; the resource is optional but, when the '/' is present,
// must be non-empty.
func Parse(raw string) (JID, error) {
	bare, resource, hasResource := strings.Cut(raw, "/")
	local, domain, found := strings.Cut(bare, "@")
	if !found {
		return JID{}, fmt.Errorf("jid: %q has no '@'", raw)
	}
	if local == "" {
		return JID{}, fmt.Errorf("jid: %q has an empty local part", raw)
	}
	if domain == "" {
		return JID{}, fmt.Errorf("jid: %q has an empty domain", raw)
	}
	if strings.IndexByte(domain, '@') >= 0 {
		return JID{}, fmt.Errorf("jid: %q has more than one '@' before the resource", raw)
	}
	if hasResource && resource == "" {
		return JID{}, fmt.Errorf("jid: %q has an empty resource", raw)
	}
	return JID{local: local, domain: domain, resource: resource}, nil
}

// MustParse is like Parse but panics on error. For tests and constants.
func MustParse(raw string) JID {
	parsed, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return parsed
}

// Local returns the part before '@'.
func (j JID) Local() string { return j.local }

// Domain returns the part between '@' and the resource.
func (j JID) Domain() string { return j.domain }

// Resource returns the resource, or "" for a bare identifier.
func (j JID) Resource() string { return j.resource }

// IsZero reports whether j is the zero value.
func (j JID) IsZero() bool { return j.local == "" }

// IsBare reports whether j has no resource.
func (j JID) IsBare() bool { return j.resource == "" }

// Bare returns j without its resource.
func (j JID) Bare() JID {
	return JID{local: j.local, domain: j.domain}
}

// WithResource returns a copy of j narrowed to resource. An empty
// resource yields the bare identifier.
func (j JID) WithResource(resource string) JID {
	return JID{local: j.local, domain: j.domain, resource: resource}
}

// String returns the canonical "local@domain[/resource]" form.
func (j JID) String() string {
	if j.IsZero() {
		return ""
	}
	if j.resource == "" {
		return j.local + "@" + j.domain
	}
	return j.local + "@" + j.domain + "/" + j.resource
}

// MarshalText implements encoding.TextMarshaler.
func (j JID) MarshalText() ([]byte, error) {
	return []byte(j.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (j *JID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
