package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	systemAddressPrefix = "op"
	systemAddressDomain = "example.com"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)
	systemAddressRe = regexp.MustCompile(`^op([A-Za-z0-9_]+?)(-[0-9a-f]{8})?@`)
)

// DeriveSystemAddress maps a registration to the login handle stored by the
// identity provider. Registrations containing punctuation get a short digest
// suffix so that "AB-1" and "A-B1" do not share an address.
func DeriveSystemAddress(registration string) string {
	trimmed := strings.TrimSpace(registration)
	clean := nonAlphanumeric.ReplaceAllString(trimmed, "")
	if clean != trimmed {
		sum := sha256.Sum256([]byte(trimmed))
		return systemAddressPrefix + clean + "-" + hex.EncodeToString(sum[:4]) + "@" + systemAddressDomain
	}
	return strippedAddress(trimmed)
}

// strippedAddress is the handle without digest suffix that accounts were
// provisioned with before punctuated registrations were disambiguated.
func strippedAddress(registration string) string {
	return systemAddressPrefix + nonAlphanumeric.ReplaceAllString(registration, "") + "@" + systemAddressDomain
}

// LegacyAddresses lists the handles older deployments provisioned, in the
// order they are tried.
func LegacyAddresses(registration string) []string {
	id := strings.TrimSpace(registration)
	var out []string
	if stripped := strippedAddress(id); stripped != DeriveSystemAddress(id) {
		out = append(out, stripped)
	}
	return append(out,
		"op"+id+"@sistema156.com",
		id+"@operadores.sistema.local",
	)
}

// IsSystemAddress reports whether the address was generated for an operator.
func IsSystemAddress(address string) bool {
	lower := strings.ToLower(address)
	return strings.HasSuffix(lower, "@"+systemAddressDomain) ||
		strings.HasSuffix(lower, "@sistema156.com") ||
		strings.HasSuffix(lower, "@operadores.sistema.local")
}

// registrationCandidates returns the registrations a principal may belong to,
// most reliable first and without duplicates.
func registrationCandidates(p Principal) []string {
	var out []string
	add := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		for _, existing := range out {
			if existing == value {
				return
			}
		}
		out = append(out, value)
	}

	add(p.Metadata[MetadataRegistration])
	if m := systemAddressRe.FindStringSubmatch(p.Email); m != nil {
		add(m[1])
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		add(p.Email)
	}
	if local, domain, ok := strings.Cut(p.Email, "@"); ok && strings.EqualFold(domain, "operadores.sistema.local") {
		add(local)
	}
	return out
}
