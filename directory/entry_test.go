package directory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAttributeCollapsesDuplicates(t *testing.T) {
	e := NewEntry("uid=jdoe,dc=test,dc=com")
	e.SetAttribute("mail", []string{"a@x.com", "b@x.com", "a@x.com", ""})

	assert.Equal(t, []string{"a@x.com", "b@x.com"}, e.Attributes["mail"])
}

func TestSetAttributeDropsEmpty(t *testing.T) {
	e := NewEntry("uid=jdoe,dc=test,dc=com")
	e.SetAttribute("mail", []string{"a@x.com"})
	e.SetAttribute("mail", []string{"", ""})

	_, ok := e.Attributes["mail"]
	assert.False(t, ok)
}

func TestValuesEqualIgnoresOrderAndDuplicates(t *testing.T) {
	assert.True(t, ValuesEqual([]string{"a", "b"}, []string{"b", "a"}))
	assert.True(t, ValuesEqual([]string{"a", "a", "b"}, []string{"b", "a"}))
	assert.False(t, ValuesEqual([]string{"a"}, []string{"a", "b"}))
}

func TestAttributesEqual(t *testing.T) {
	a := map[string][]string{"mail": {"x", "y"}, "cn": {"John"}}
	b := map[string][]string{"cn": {"John"}, "mail": {"y", "x"}}
	c := map[string][]string{"cn": {"Jane"}, "mail": {"y", "x"}}

	assert.True(t, AttributesEqual(a, b))
	assert.False(t, AttributesEqual(a, c))
	assert.False(t, AttributesEqual(a, map[string][]string{"mail": {"x", "y"}}))
}

func TestAddObjectClassesIgnoresCaseDuplicates(t *testing.T) {
	e := NewEntry("uid=jdoe,dc=test,dc=com")
	e.AddObjectClasses("inetOrgPerson", "person", "top")
	e.AddObjectClasses("Person", "posixAccount", "")

	assert.Equal(t, []string{"inetOrgPerson", "person", "top", "posixAccount"}, e.ObjectClasses)
	assert.True(t, e.HasObjectClass("INETORGPERSON"))
	assert.False(t, e.HasObjectClass("groupOfNames"))
}

func TestFindChanges(t *testing.T) {
	prev := map[string][]string{"cn": {"John"}, "mail": {"a", "b"}, "sn": {"Doe"}}
	curr := map[string][]string{"cn": {"John"}, "mail": {"b", "a"}, "title": {"eng"}}

	changes := FindChanges(prev, curr)

	names := make(map[string]bool)
	for _, c := range changes {
		names[c.Name] = true
	}
	assert.False(t, names["cn"], "unchanged attribute reported")
	assert.False(t, names["mail"], "order-only difference reported")
	assert.True(t, names["title"], "added attribute not reported")
	assert.True(t, names["sn"], "removed attribute not reported")
}

func TestFakeDirectorySemantics(t *testing.T) {
	ctx := context.Background()
	fake := NewFake(slog.Default())
	dn := "uid=jdoe,dc=test,dc=com"

	ok, err := fake.Exists(ctx, dn)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fake.Add(ctx, dn, map[string][]string{"cn": {"John"}}, []string{"person", "top"}))

	ok, err = fake.Exists(ctx, dn)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second add for the same DN fails permanently, as a real directory would.
	err = fake.Add(ctx, dn, nil, []string{"top"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	require.NoError(t, fake.Modify(ctx, dn, map[string][]string{"cn": {"Johnny"}}))
	assert.Equal(t, []string{"Johnny"}, fake.Get(dn).Attributes["cn"])

	require.NoError(t, fake.Delete(ctx, dn))
	assert.True(t, IsPermanent(fake.Delete(ctx, dn)))
	assert.Equal(t, 0, fake.Len())
}

func TestCommitReportResolution(t *testing.T) {
	r := &CommitReport{
		Stream:    "users",
		Succeeded: []string{"uid=a,dc=x", "uid=b,dc=x"},
		Failed: []EntryFailure{
			{DN: "uid=c,dc=x", Reason: "objectClassViolation", Permanent: true},
		},
	}
	assert.True(t, r.FullyResolved())
	assert.Len(t, r.PermanentFailures(), 1)
	assert.Empty(t, r.Unresolved())

	r.Failed = append(r.Failed, EntryFailure{DN: "uid=d,dc=x", Reason: "busy", Permanent: false})
	assert.False(t, r.FullyResolved())
	assert.Len(t, r.Unresolved(), 1)
}
