package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilter_EmptyMatchesEverything(t *testing.T) {
	a := New("xen01", KindVmBackup, "mail-server", time.Now())

	assert.True(t, Filter{}.Matches(a))
}

func TestFilter_ConstraintsAreConjunctive(t *testing.T) {
	timestamp, _ := time.Parse(time.RFC3339, "2024-02-09T10:19:02Z")
	a := New("xen01", KindVmBackup, "mail-server", timestamp)

	assert.True(t, Filter{
		XenHosts:    []string{"xen01", "xen02"},
		Kinds:       []Kind{KindVmBackup},
		ObjectNames: []string{"mail-server"},
	}.Matches(a))

	// one failing constraint rejects the artifact even though the rest match
	assert.False(t, Filter{
		XenHosts:    []string{"xen01"},
		ObjectNames: []string{"web-server"},
	}.Matches(a))

	assert.False(t, Filter{XenHosts: []string{"xen02"}}.Matches(a))
	assert.False(t, Filter{Compressions: []Compression{CompressionZstd}}.Matches(a))

	a.Compression = CompressionZstd
	assert.True(t, Filter{Compressions: []Compression{CompressionZstd}}.Matches(a))
}

func TestFilter_TimeBoundsAreExclusive(t *testing.T) {
	timestamp, _ := time.Parse(time.RFC3339, "2024-02-09T10:19:02Z")
	a := New("xen01", KindVmBackup, "mail-server", timestamp)

	before := timestamp.Add(time.Second)
	after := timestamp.Add(-time.Second)

	assert.True(t, Filter{Before: &before, After: &after}.Matches(a))
	assert.False(t, Filter{Before: &timestamp}.Matches(a))
	assert.False(t, Filter{After: &timestamp}.Matches(a))
}

func TestFilterFor_RestrictsToIdentity(t *testing.T) {
	timestamp, _ := time.Parse(time.RFC3339, "2024-02-09T10:19:02Z")
	a := New("xen01", KindVmBackup, "mail-server", timestamp)

	f := FilterFor(a)

	other := a
	other.Timestamp = timestamp.Add(-24 * time.Hour)
	other.Compression = CompressionGzip

	assert.True(t, f.Matches(a))
	assert.True(t, f.Matches(other), "same identity at any time and compression")

	otherObject := New("xen01", KindVmBackup, "web-server", timestamp)
	otherHost := New("xen02", KindVmBackup, "mail-server", timestamp)

	assert.False(t, f.Matches(otherObject))
	assert.False(t, f.Matches(otherHost))
}
