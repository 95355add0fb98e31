/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package auth implements the credential check performed during the
// connection handshake.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrAuthRejected is returned when credentials do not match the accepted pair.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrMalformedCredentials is returned for a handshake line without a
	// username/password separator. It wraps ErrAuthRejected.
	ErrMalformedCredentials = fmt.Errorf("%w: expected <username>,<password>", ErrAuthRejected)
)

// Default credentials accepted when none are configured.
const (
	DefaultUsername = "aaa"
	DefaultPassword = "bbb"
)

// Options configures an Authenticator. PasswordHash, when set, takes
// precedence over Password and must be a bcrypt hash.
type Options struct {
	Enabled      bool
	Username     string
	Password     string
	PasswordHash string
	// Cost is the bcrypt cost used when hashing Password. Zero means bcrypt.DefaultCost.
	Cost int
}

// Authenticator verifies handshake credentials against one accepted pair.
// It is safe for concurrent use.
type Authenticator struct {
	enabled  bool
	username string
	hash     []byte
}

// NewAuthenticator builds an Authenticator from opts.
func NewAuthenticator(opts Options) (*Authenticator, error) {
	a := &Authenticator{enabled: opts.Enabled, username: opts.Username}
	if !opts.Enabled {
		return a, nil
	}
	if opts.Username == "" {
		return nil, errors.New("auth: username is required")
	}

	if opts.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(opts.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth: invalid password hash: %w", err)
		}
		a.hash = []byte(opts.PasswordHash)
		return a, nil
	}

	cost := opts.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), cost)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to hash password: %w", err)
	}
	a.hash = hash
	return a, nil
}

// Enabled reports whether credentials are checked at all.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// Verify checks a username/password pair. It always succeeds when the
// authenticator is disabled.
func (a *Authenticator) Verify(username, password string) error {
	if !a.enabled {
		return nil
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !userOK || passErr != nil {
		return ErrAuthRejected
	}
	return nil
}

// Authenticate parses a handshake line and verifies it, returning the
// username that was presented.
func (a *Authenticator) Authenticate(line string) (string, error) {
	username, password, err := ParseCredentials(line)
	if err != nil {
		if !a.enabled {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return username, a.Verify(username, password)
}

// ParseCredentials splits a "<username>,<password>" handshake line on its
// first comma. Surrounding whitespace and the line terminator are dropped.
func ParseCredentials(line string) (username, password string, err error) {
	line = strings.TrimRight(line, "\r\n")
	username, password, ok := strings.Cut(line, ",")
	if !ok {
		return "", "", ErrMalformedCredentials
	}
	return strings.TrimSpace(username), strings.TrimSpace(password), nil
}

// HashPassword returns a bcrypt hash suitable for Options.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
