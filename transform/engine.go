package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"ldapsink/config"
	"ldapsink/directory"
	"ldapsink/singer"
)

// Reserved record fields that never become directory attributes.
const (
	fieldDN          = "dn"
	fieldObjectClass = "objectClass"
	fieldDeletedAt   = "_sdc_deleted_at"
)

// ldapTimeFormat is the directory generalized-time form used for epoch
// encoded values.
const ldapTimeFormat = "20060102150405Z"

var templateField = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Engine transforms records into directory entries. It is stateless with
// respect to directory contents: whether an entry becomes an add or a
// modify is decided at write time.
type Engine struct {
	baseDN            string
	placeholderMember bool
}

// NewEngine builds a transformation engine over the configured base DN.
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		baseDN:            cfg.BaseDN,
		placeholderMember: cfg.GroupMemberPlaceholder(),
	}
}

// Transform converts one record into a directory entry. It performs no
// directory I/O and returns a *Error on any per-record failure.
func (e *Engine) Transform(rec *singer.RecordMessage, ctx *StreamContext) (*directory.Entry, error) {
	dn, err := e.resolveDN(rec, ctx)
	if err != nil {
		return nil, err
	}

	entry := directory.NewEntry(dn)

	if deleted, ok := rec.Record[fieldDeletedAt]; ok && !isEmptyValue(deleted) {
		// Deletion marker: the entry carries nothing beyond the DN.
		entry.Op = directory.OpDelete
		return entry, nil
	}

	if err := e.mapAttributes(rec, ctx, entry); err != nil {
		return nil, err
	}
	if err := e.applyObjectClasses(rec, ctx, entry); err != nil {
		return nil, err
	}

	if e.placeholderMember && entry.HasObjectClass("groupOfNames") && len(entry.Attributes["member"]) == 0 {
		// groupOfNames requires at least one member.
		entry.SetAttribute("member", []string{fmt.Sprintf("cn=placeholder,%s", e.baseDN)})
	}

	return entry, nil
}

// resolveDN determines the entry's DN: an explicit dn field wins, then the
// stream's DN template, then RDN attribute plus base DN.
func (e *Engine) resolveDN(rec *singer.RecordMessage, ctx *StreamContext) (string, error) {
	if raw, ok := rec.Record[fieldDN]; ok {
		dn, ok := raw.(string)
		if !ok || dn == "" {
			return "", &Error{Kind: DNRenderError, Stream: ctx.Name, Field: fieldDN, Detail: "explicit dn must be a non-empty string"}
		}
		return dn, nil
	}

	if tmpl := ctx.Profile.DNTemplate; tmpl != "" {
		return e.renderTemplate(tmpl, rec, ctx)
	}

	attr := ctx.RDNAttribute()
	value, err := scalarString(rec.Record[attr])
	if err != nil || value == "" {
		return "", &Error{Kind: MissingRDNValue, Stream: ctx.Name, Field: attr, Detail: "record has no value for the rdn attribute"}
	}
	return fmt.Sprintf("%s=%s,%s", attr, directory.EscapeDNValue(value), e.baseDN), nil
}

// renderTemplate substitutes {field} references with DN-escaped record
// values. {base} expands to the configured base DN unescaped, since it is
// itself a DN fragment.
func (e *Engine) renderTemplate(tmpl string, rec *singer.RecordMessage, ctx *StreamContext) (string, error) {
	var renderErr error
	out := templateField.ReplaceAllStringFunc(tmpl, func(match string) string {
		field := templateField.FindStringSubmatch(match)[1]
		if field == "base" {
			return e.baseDN
		}
		raw, ok := rec.Record[field]
		if !ok {
			if renderErr == nil {
				renderErr = &Error{Kind: DNRenderError, Stream: ctx.Name, Field: field, Detail: "template field absent from record"}
			}
			return ""
		}
		value, err := scalarString(raw)
		if err != nil || value == "" {
			if renderErr == nil {
				renderErr = &Error{Kind: DNRenderError, Stream: ctx.Name, Field: field, Detail: "template field is empty or not a scalar"}
			}
			return ""
		}
		return directory.EscapeDNValue(value)
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

// mapAttributes maps record fields onto directory attributes. Fields with
// no mapping pass through under their own name unless excluded.
func (e *Engine) mapAttributes(rec *singer.RecordMessage, ctx *StreamContext, entry *directory.Entry) error {
	excluded := make(map[string]struct{}, len(ctx.Profile.ExcludeFields))
	for _, f := range ctx.Profile.ExcludeFields {
		excluded[f] = struct{}{}
	}

	for field, raw := range rec.Record {
		switch field {
		case fieldDN, fieldObjectClass, fieldDeletedAt:
			continue
		}
		if _, ok := excluded[field]; ok {
			continue
		}

		mapping := ctx.Profile.AttributeMap[field]
		if mapping.Exclude {
			continue
		}
		target := mapping.Name
		if target == "" {
			target = field
		}

		values, err := coerce(raw, mapping.Encoding)
		if err != nil {
			return &Error{Kind: BadValue, Stream: ctx.Name, Field: field, Detail: err.Error()}
		}
		if len(values) == 0 {
			continue
		}

		entry.SetAttribute(target, values)
	}
	return nil
}

// applyObjectClasses merges the stream's default class set with classes the
// record adds via the reserved objectClass field. Defaults can never be
// removed. Fails when no declared structural class survives.
func (e *Engine) applyObjectClasses(rec *singer.RecordMessage, ctx *StreamContext, entry *directory.Entry) error {
	entry.AddObjectClasses(ctx.Profile.ObjectClasses...)

	if raw, ok := rec.Record[fieldObjectClass]; ok {
		extra, err := stringList(raw)
		if err != nil {
			return &Error{Kind: BadValue, Stream: ctx.Name, Field: fieldObjectClass, Detail: err.Error()}
		}
		entry.AddObjectClasses(extra...)
	}

	if len(entry.ObjectClasses) == 0 {
		return &Error{Kind: NoStructuralClass, Stream: ctx.Name, Detail: "entry has no object classes"}
	}
	if len(ctx.Profile.StructuralClasses) > 0 {
		found := false
		for _, sc := range ctx.Profile.StructuralClasses {
			if entry.HasObjectClass(sc) {
				found = true
				break
			}
		}
		if !found {
			return &Error{Kind: NoStructuralClass, Stream: ctx.Name, Detail: fmt.Sprintf("none of the structural classes %v present", ctx.Profile.StructuralClasses)}
		}
	}
	return nil
}

// coerce stringifies a record value under the mapping's declared encoding.
// Arrays coerce element-wise; nulls produce no values.
func coerce(raw any, encoding string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	if list, ok := raw.([]any); ok {
		out := make([]string, 0, len(list))
		for _, item := range list {
			vs, err := coerce(item, encoding)
			if err != nil {
				return nil, err
			}
			out = append(out, vs...)
		}
		return out, nil
	}

	switch encoding {
	case "", config.EncodingString:
		s, err := scalarString(raw)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	case config.EncodingInteger:
		switch v := raw.(type) {
		case float64:
			return []string{strconv.FormatInt(int64(v), 10)}, nil
		case string:
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return nil, fmt.Errorf("value %q is not an integer", v)
			}
			return []string{v}, nil
		default:
			return nil, fmt.Errorf("cannot encode %T as integer", raw)
		}
	case config.EncodingBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as boolean", raw)
		}
		if b {
			return []string{"TRUE"}, nil
		}
		return []string{"FALSE"}, nil
	case config.EncodingEpoch:
		var secs int64
		switch v := raw.(type) {
		case float64:
			secs = int64(v)
		case string:
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not epoch seconds", v)
			}
			secs = parsed
		default:
			return nil, fmt.Errorf("cannot encode %T as epoch timestamp", raw)
		}
		return []string{time.Unix(secs, 0).UTC().Format(ldapTimeFormat)}, nil
	case config.EncodingISO8601:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("cannot pass through %T as iso8601", raw)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, fmt.Errorf("value %q is not an iso8601 timestamp", s)
		}
		return []string{s}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

// scalarString renders a scalar JSON value as its directory string form.
func scalarString(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", raw)
	}
}

// stringList coerces a scalar or array value into a string list.
func stringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string at index %d, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return v, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", raw)
	}
}

func isEmptyValue(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	default:
		return false
	}
}
