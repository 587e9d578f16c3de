// Package auth authenticates API callers by static API key.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"
)

// RoleQueryReader may ask questions, read history and download charts.
const RoleQueryReader = "query_reader"

// Identity is the authenticated caller. Subject namespaces conversation
// sessions so two keys never share history.
type Identity struct {
	Subject string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type staticKey struct {
	digest   [sha256.Size]byte
	identity Identity
}

// StaticAPIKeyValidator holds SHA-256 digests of the configured keys and
// compares them in constant time.
type StaticAPIKeyValidator struct {
	keys []staticKey
}

// NewStaticAPIKeyValidator parses "key:subject:role|role,key:subject:role".
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, identity, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256([]byte(key))
		for _, existing := range validator.keys {
			if existing.digest == digest {
				return nil, fmt.Errorf("duplicate static key for subject %q", identity.Subject)
			}
		}
		validator.keys = append(validator.keys, staticKey{digest: digest, identity: identity})
	}
	return validator, nil
}

func parseEntry(entry string) (string, Identity, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return "", Identity{}, fmt.Errorf("invalid static key entry: expected key:subject:role|role")
	}
	key := strings.TrimSpace(parts[0])
	subject := strings.TrimSpace(parts[1])
	if key == "" || subject == "" {
		return "", Identity{}, fmt.Errorf("invalid static key entry for subject %q: empty key or subject", subject)
	}
	if strings.Contains(subject, "/") {
		return "", Identity{}, fmt.Errorf("invalid subject %q: must not contain '/'", subject)
	}

	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		if role = strings.TrimSpace(role); role != "" && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("invalid static key entry for subject %q: at least one role is required", subject)
	}
	slices.Sort(roles)
	return key, Identity{Subject: subject, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	digest := sha256.Sum256([]byte(apiKey))
	var (
		match Identity
		found bool
	)
	// Every configured key is compared so timing does not reveal a match.
	for _, key := range v.keys {
		if subtle.ConstantTimeCompare(digest[:], key.digest[:]) == 1 {
			match, found = key.identity, true
		}
	}
	return match, found
}
