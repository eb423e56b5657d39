package directory

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EscapeDNValue escapes an attribute value for use inside a distinguished
// name per RFC 4514: the characters , = + " \ < > ; are always escaped, a
// leading # is escaped, leading and trailing spaces are escaped, and NUL
// becomes \00. RFC 4514 tolerates an unescaped = inside a value, but
// escaping it keeps rendered DNs unambiguous for consumers that split on
// it.
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)

	runes := []rune(value)
	for i, r := range runes {
		switch r {
		case ',', '=', '+', '"', '\\', '<', '>', ';':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '#':
			if i == 0 {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		case ' ':
			if i == 0 || i == len(runes)-1 {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		case 0:
			b.WriteString(`\00`)
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// UnescapeDNValue reverses EscapeDNValue, including \XX hex escapes.
func UnescapeDNValue(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))

	runes := []rune(value)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' || i == len(runes)-1 {
			b.WriteRune(runes[i])
			continue
		}
		// Two hex digits after the backslash form a byte escape.
		if i+2 < len(runes) {
			if hi, ok := hexVal(runes[i+1]); ok {
				if lo, ok := hexVal(runes[i+2]); ok {
					b.WriteByte(byte(hi<<4 | lo))
					i += 2
					continue
				}
			}
		}
		i++
		b.WriteRune(runes[i])
	}

	return b.String()
}

func hexVal(r rune) (int, bool) {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0'), true
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10, true
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10, true
	default:
		return 0, false
	}
}

// ValidateDN checks that a DN parses under RFC 4514 and has a non-empty
// leading RDN.
func ValidateDN(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("dn is empty")
	}
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return fmt.Errorf("malformed dn %q: %w", dn, err)
	}
	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return fmt.Errorf("dn %q has no rdn", dn)
	}
	first := parsed.RDNs[0].Attributes[0]
	if first.Type == "" || first.Value == "" {
		return fmt.Errorf("dn %q has an empty rdn component", dn)
	}
	return nil
}

// WithinBase reports whether dn sits at or below the base DN. Comparison is
// on parsed RDN components so spacing and escaping differences do not
// matter.
func WithinBase(dn, base string) bool {
	if base == "" {
		return true
	}
	child, err := ldap.ParseDN(dn)
	if err != nil {
		return false
	}
	parent, err := ldap.ParseDN(base)
	if err != nil {
		return false
	}
	if len(child.RDNs) < len(parent.RDNs) {
		return false
	}
	offset := len(child.RDNs) - len(parent.RDNs)
	for i, rdn := range parent.RDNs {
		if !rdnEqual(child.RDNs[offset+i], rdn) {
			return false
		}
	}
	return true
}

func rdnEqual(a, b *ldap.RelativeDN) bool {
	if len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for i := range a.Attributes {
		if !strings.EqualFold(a.Attributes[i].Type, b.Attributes[i].Type) ||
			!strings.EqualFold(a.Attributes[i].Value, b.Attributes[i].Value) {
			return false
		}
	}
	return true
}

// FirstRDNValue returns the unescaped value of the first RDN of dn, used in
// round-trip checks and log output.
func FirstRDNValue(dn string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", err
	}
	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", fmt.Errorf("dn %q has no rdn", dn)
	}
	return parsed.RDNs[0].Attributes[0].Value, nil
}
