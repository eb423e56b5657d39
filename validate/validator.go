// Package validate checks transformed entries against their stream's
// declared constraints before they are queued for writing. It returns every
// violation found, not just the first, and never contacts the directory:
// referential integrity across entries is handled by dependency-tier
// ordering, not by live lookups.
package validate

import (
	"fmt"
	"strings"

	"ldapsink/config"
	"ldapsink/directory"
	"ldapsink/transform"
)

// Violation is one constraint failure on an entry.
type Violation struct {
	Attribute string
	Message   string
}

func (v Violation) String() string {
	if v.Attribute != "" {
		return fmt.Sprintf("%s: %s", v.Attribute, v.Message)
	}
	return v.Message
}

// Violations aggregates all failures for one entry into a single error.
type Violations []Violation

func (vs Violations) Error() string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator runs the constraint checks.
type Validator struct {
	baseDN string
	strict bool
}

func New(cfg *config.Config) *Validator {
	return &Validator{baseDN: cfg.BaseDN, strict: cfg.StrictAttributes}
}

// Validate checks an entry against its stream context and returns the
// complete list of violations, or nil when the entry is acceptable. The
// entry is never mutated.
func (v *Validator) Validate(entry *directory.Entry, ctx *transform.StreamContext) Violations {
	var out Violations

	out = append(out, v.checkDN(entry)...)

	if entry.Op == directory.OpDelete {
		// Delete entries carry no attributes, so only the DN is checked.
		return out
	}

	out = append(out, v.checkRequired(entry, ctx)...)
	out = append(out, v.checkMultiValued(entry, ctx)...)
	if v.strict {
		out = append(out, v.checkAllowList(entry, ctx)...)
	}

	return out
}

func (v *Validator) checkDN(entry *directory.Entry) Violations {
	var out Violations
	if err := directory.ValidateDN(entry.DN); err != nil {
		out = append(out, Violation{Message: err.Error()})
		return out
	}
	if !directory.WithinBase(entry.DN, v.baseDN) {
		out = append(out, Violation{Message: fmt.Sprintf("dn %q is outside base %q", entry.DN, v.baseDN)})
	}
	return out
}

func (v *Validator) checkRequired(entry *directory.Entry, ctx *transform.StreamContext) Violations {
	var out Violations
	for _, attr := range ctx.Profile.RequiredAttributes {
		if len(entry.Attributes[attr]) == 0 {
			out = append(out, Violation{Attribute: attr, Message: "required attribute missing or empty"})
		}
	}
	return out
}

// checkMultiValued rejects multiple values on attributes not declared
// multi-valued by convention, by stream configuration, or by an explicit
// mapping flag.
func (v *Validator) checkMultiValued(entry *directory.Entry, ctx *transform.StreamContext) Violations {
	multi := make(map[string]struct{}, len(ctx.Profile.MultiValued))
	for _, a := range ctx.Profile.MultiValued {
		multi[a] = struct{}{}
	}
	for _, m := range ctx.Profile.AttributeMap {
		if m.MultiValued && m.Name != "" {
			multi[m.Name] = struct{}{}
		}
	}

	var out Violations
	for name, values := range entry.Attributes {
		if len(values) <= 1 {
			continue
		}
		if _, ok := multi[name]; ok || config.IsMultiValuedDefault(name) {
			continue
		}
		out = append(out, Violation{Attribute: name, Message: fmt.Sprintf("%d values on an attribute not declared multi-valued", len(values))})
	}
	return out
}

func (v *Validator) checkAllowList(entry *directory.Entry, ctx *transform.StreamContext) Violations {
	if len(ctx.Profile.AllowedAttributes) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(ctx.Profile.AllowedAttributes))
	for _, a := range ctx.Profile.AllowedAttributes {
		allowed[strings.ToLower(a)] = struct{}{}
	}

	var out Violations
	for name := range entry.Attributes {
		if _, ok := allowed[strings.ToLower(name)]; !ok {
			out = append(out, Violation{Attribute: name, Message: "attribute not in the configured allow-list"})
		}
	}
	return out
}
