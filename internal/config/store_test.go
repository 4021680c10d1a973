package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestStore() *Store {
	return NewBuilder().
		Section("ns/fastpath").
		Param("mmap", "false").
		Param("cache", "Yes").
		Param("cachemaxsize", "1048576").
		Param("cachemaxentry", "8192").
		Section("ns/server/default/fastpath").
		Param("pageroot", "/var/www").
		Param("DirectoryFile", "index.html index.adp").
		Build()
}

func TestSectionNameCanonicalization(t *testing.T) {
	st := NewBuilder().Section(`  NS\Server\Default\FastPath/  `).Param("k", "v").Build()

	sec := st.Section("ns/server/default/fastpath")
	require.NotNil(t, sec)
	v, ok := sec.Get("K")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestGetCaseInsensitive(t *testing.T) {
	st := buildTestStore()

	v, ok := st.Get("ns/server/default/fastpath", "PAGEROOT")
	require.True(t, ok)
	assert.Equal(t, "/var/www", v)

	_, ok = st.GetExact("ns/server/default/fastpath", "PAGEROOT")
	assert.False(t, ok, "GetExact must not case-fold")

	v, ok = st.GetExact("ns/server/default/fastpath", "pageroot")
	require.True(t, ok)
	assert.Equal(t, "/var/www", v)
}

func TestGetBool(t *testing.T) {
	st := buildTestStore()

	cases := []struct {
		value string
		want  bool
		ok    bool
	}{
		{"yes", true, true},
		{"Yes", true, true},
		{"1", true, true},
		{"TRUE", true, true},
		{"no", false, true},
		{"0", false, true},
		{"off", false, true},
		{"42", true, true},
		{"-5", true, true},
		{"0x10", false, false},
		{"maybe", false, false},
	}
	for _, c := range cases {
		b := NewBuilder().Section("s").Param("k", c.value).Build()
		got, ok := b.GetBool("s", "k")
		assert.Equal(t, c.ok, ok, "value=%q", c.value)
		if c.ok {
			assert.Equal(t, c.want, got, "value=%q", c.value)
		}
	}

	_, ok := st.GetBool("ns/fastpath", "nosuchkey")
	assert.False(t, ok)
}

func TestGetIntAndInt64(t *testing.T) {
	st := buildTestStore()

	n, ok := st.GetInt("ns/fastpath", "cachemaxsize")
	require.True(t, ok)
	assert.Equal(t, 1048576, n)

	_, ok = st.GetInt("ns/fastpath", "mmap")
	assert.False(t, ok, "\"false\" does not fully parse as decimal")

	n64, ok := st.GetInt64("ns/fastpath", "cachemaxentry")
	require.True(t, ok)
	assert.Equal(t, int64(8192), n64)
}

func TestGetIntRangeClampsAndDefaults(t *testing.T) {
	st := buildTestStore()

	assert.Equal(t, 1048576, st.GetIntRange("ns/fastpath", "cachemaxsize", 999, 1024, 2_000_000))
	assert.Equal(t, 100, st.GetIntRange("ns/fastpath", "cachemaxsize", 999, 1024, 100))
	assert.Equal(t, 42, st.GetIntRange("ns/fastpath", "missing", 42, 1, 100))
}

func TestGetPath(t *testing.T) {
	st := buildTestStore()

	name, ok := st.GetPath("default", "", "fastpath")
	require.True(t, ok)
	assert.Equal(t, "ns/server/default/fastpath", name)

	_, ok = st.GetPath("nosuchserver", "", "fastpath")
	assert.False(t, ok)
}

func TestSectionsOrder(t *testing.T) {
	st := buildTestStore()
	var names []string
	for _, sec := range st.Sections() {
		names = append(names, sec.Name())
	}
	assert.Equal(t, []string{"ns/fastpath", "ns/server/default/fastpath"}, names)
}

func TestBuilderPanicsWithoutSection(t *testing.T) {
	assert.Panics(t, func() {
		NewBuilder().Param("k", "v")
	})
}
