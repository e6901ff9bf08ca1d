// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for linebridge.
//
// Configuration comes from at most one file, named by the --config flag
// or the LINEBRIDGE_CONFIG environment variable; without either, the
// built-in [Default] is used. There is no automatic discovery. Files
// ending in .json or .jsonc are read as JSON with comments and trailing
// commas; anything else is YAML.
//
// Three environment variables carried over from earlier releases
// override the identity section: XMPPBRIDGE_JID, XMPPBRIDGE_PEER_JID,
// and XMPPBRIDGE_PASSWORD. [Config.ApplyEnvironment] applies them from
// a lookup function supplied by the caller, so only the command reads
// the process environment.
//
// Path fields accept ${HOME} and ${VAR:-default} expansion.
//
// Key exports:
//
//   - [Config] -- identity, backend, bridge, privilege, and log settings
//   - [Default] and [LoadFile] -- the two ways to obtain a Config
//   - [Config.Validate] -- reports every problem at once via errors.Join
//   - [Config.LoadPassword] -- resolves the password into a secret.Buffer
package config
