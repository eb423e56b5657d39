package config

// Built-in stream profiles for the common identity stream categories.
// Organizational units sit in tier 0 (containers first), users in tier 1,
// groups in tier 2 (membership references principals). A stream with no
// profile and no configuration falls back to the generic profile.
var builtinProfiles = map[string]StreamConfig{
	"organizational_units": {
		Tier:               tierOf(0),
		RDNAttribute:       "ou",
		ObjectClasses:      []string{"organizationalUnit", "top"},
		StructuralClasses:  []string{"organizationalUnit"},
		RequiredAttributes: []string{"ou"},
	},
	"users": {
		Tier:               tierOf(1),
		RDNAttribute:       "uid",
		ObjectClasses:      []string{"inetOrgPerson", "organizationalPerson", "person", "top"},
		StructuralClasses:  []string{"inetOrgPerson", "organizationalPerson", "person"},
		RequiredAttributes: []string{"cn", "sn"},
	},
	"groups": {
		Tier:               tierOf(2),
		RDNAttribute:       "cn",
		ObjectClasses:      []string{"groupOfNames", "top"},
		StructuralClasses:  []string{"groupOfNames"},
		RequiredAttributes: []string{"cn", "member"},
	},
}

var genericProfile = StreamConfig{
	Tier:              tierOf(1),
	RDNAttribute:      "cn",
	ObjectClasses:     []string{"top"},
	StructuralClasses: nil,
}

func tierOf(v int) *int { return &v }

// defaultMultiValued are attributes that stay lists even when carrying a
// single value.
var defaultMultiValued = map[string]struct{}{
	"member":          {},
	"memberOf":        {},
	"memberUid":       {},
	"mail":            {},
	"telephoneNumber": {},
	"objectClass":     {},
}

// IsMultiValuedDefault reports whether the attribute is list-valued by
// convention regardless of stream configuration.
func IsMultiValuedDefault(attr string) bool {
	_, ok := defaultMultiValued[attr]
	return ok
}

// StreamProfile resolves the effective profile for a stream: the built-in
// profile for its name (or the generic fallback), with any configured
// fields overriding profile fields.
func (c *Config) StreamProfile(stream string) StreamConfig {
	profile, ok := builtinProfiles[stream]
	if !ok {
		profile = genericProfile
	}

	override, configured := c.Streams[stream]
	if !configured {
		return profile
	}

	if override.Tier != nil {
		profile.Tier = override.Tier
	}
	if override.RDNAttribute != "" {
		profile.RDNAttribute = override.RDNAttribute
	}
	if override.DNTemplate != "" {
		profile.DNTemplate = override.DNTemplate
	}
	if len(override.ObjectClasses) > 0 {
		profile.ObjectClasses = override.ObjectClasses
	}
	if len(override.StructuralClasses) > 0 {
		profile.StructuralClasses = override.StructuralClasses
	}
	if len(override.RequiredAttributes) > 0 {
		profile.RequiredAttributes = override.RequiredAttributes
	}
	if len(override.AttributeMap) > 0 {
		profile.AttributeMap = override.AttributeMap
	}
	if len(override.ExcludeFields) > 0 {
		profile.ExcludeFields = override.ExcludeFields
	}
	if len(override.AllowedAttributes) > 0 {
		profile.AllowedAttributes = override.AllowedAttributes
	}
	if len(override.MultiValued) > 0 {
		profile.MultiValued = override.MultiValued
	}
	return profile
}
