package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ldapsink/config"
	"ldapsink/directory"
	"ldapsink/singer"
	"ldapsink/transform"
)

func testContext(profile config.StreamConfig) *transform.StreamContext {
	return transform.NewStreamContext(&singer.SchemaMessage{
		Stream:        "users",
		Schema:        map[string]any{},
		KeyProperties: []string{"uid"},
	}, profile)
}

func validEntry() *directory.Entry {
	e := directory.NewEntry("uid=jdoe,ou=users,dc=test,dc=com")
	e.SetAttribute("cn", []string{"John Doe"})
	e.SetAttribute("sn", []string{"Doe"})
	e.AddObjectClasses("inetOrgPerson", "person", "top")
	return e
}

func TestValidateAccepts(t *testing.T) {
	v := New(&config.Config{BaseDN: "dc=test,dc=com"})
	ctx := testContext(config.StreamConfig{RequiredAttributes: []string{"cn", "sn"}})

	assert.Nil(t, v.Validate(validEntry(), ctx))
}

func TestValidateCollectsAllViolations(t *testing.T) {
	v := New(&config.Config{BaseDN: "dc=test,dc=com"})
	ctx := testContext(config.StreamConfig{RequiredAttributes: []string{"cn", "sn", "mail"}})

	e := directory.NewEntry("uid=jdoe,ou=users,dc=test,dc=com")
	e.AddObjectClasses("person", "top")

	violations := v.Validate(e, ctx)
	// All three missing attributes are reported at once.
	require.Len(t, violations, 3)
	assert.Contains(t, violations.Error(), "cn")
	assert.Contains(t, violations.Error(), "sn")
	assert.Contains(t, violations.Error(), "mail")
}

func TestValidateDNChecks(t *testing.T) {
	v := New(&config.Config{BaseDN: "dc=test,dc=com"})
	ctx := testContext(config.StreamConfig{})

	bad := directory.NewEntry("not a dn")
	assert.NotEmpty(t, v.Validate(bad, ctx))

	outside := directory.NewEntry("uid=jdoe,dc=other,dc=com")
	violations := v.Validate(outside, ctx)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "outside base")
}

func TestValidateDeleteSkipsAttributeChecks(t *testing.T) {
	v := New(&config.Config{BaseDN: "dc=test,dc=com"})
	ctx := testContext(config.StreamConfig{RequiredAttributes: []string{"cn", "sn"}})

	e := directory.NewEntry("uid=jdoe,ou=users,dc=test,dc=com")
	e.Op = directory.OpDelete

	assert.Nil(t, v.Validate(e, ctx))
}

func TestValidateMultiValuedDeclaration(t *testing.T) {
	v := New(&config.Config{BaseDN: "dc=test,dc=com"})
	ctx := testContext(config.StreamConfig{MultiValued: []string{"departmentNumber"}})

	e := directory.NewEntry("uid=jdoe,dc=test,dc=com")
	e.SetAttribute("mail", []string{"a@x.com", "b@x.com"})             // default multi-valued
	e.SetAttribute("departmentNumber", []string{"1", "2"})             // declared in stream config
	e.SetAttribute("employeeType", []string{"full-time", "contract"}) // not declared

	violations := v.Validate(e, ctx)
	require.Len(t, violations, 1)
	assert.Equal(t, "employeeType", violations[0].Attribute)
}

func TestValidateStrictAllowList(t *testing.T) {
	strict := New(&config.Config{BaseDN: "dc=test,dc=com", StrictAttributes: true})
	ctx := testContext(config.StreamConfig{
		AllowedAttributes: []string{"cn", "sn", "uid"},
	})

	e := directory.NewEntry("uid=jdoe,dc=test,dc=com")
	e.SetAttribute("cn", []string{"John"})
	e.SetAttribute("favoriteColor", []string{"blue"})

	violations := strict.Validate(e, ctx)
	require.Len(t, violations, 1)
	assert.Equal(t, "favoriteColor", violations[0].Attribute)

	// Same entry passes when strict mode is off.
	relaxed := New(&config.Config{BaseDN: "dc=test,dc=com"})
	assert.Nil(t, relaxed.Validate(e, ctx))

	// Strict mode with no allow-list configured checks nothing.
	noList := testContext(config.StreamConfig{})
	assert.Nil(t, strict.Validate(e, noList))
}
