package name

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	for _, tc := range []struct {
		name   string
		expErr string
	}{
		{name: "loop"},
		{name: "_tail1"},
		{name: "1loop", expErr: `invalid name "1loop"`},
		{name: "a-b", expErr: `invalid name "a-b"`},
		{name: "", expErr: `invalid name ""`},
		{name: "__local0", expErr: `invalid name "__local0": names starting with __ are reserved`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.name)
			if tc.expErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tc.expErr)
			}
		})
	}
	require.NoError(t, CheckScoped("loop.body"))
	require.Error(t, CheckScoped("loop..body"))
	require.Error(t, CheckScoped("loop.__x"))
}

func TestNamespace_Assign(t *testing.T) {
	ns := NewNamespace(nil)
	entry := Fixed("entry")
	loopA, loopB := Requested("loop"), Requested("loop")
	done := Requested("done")
	anon1, anon2 := Requested(""), Requested("")
	taken := Requested("entry")
	for _, n := range []*Name{entry, loopA, loopB, done, anon1, anon2, taken} {
		require.NoError(t, ns.Add(n))
	}
	ns.Assign()

	for _, tc := range []struct {
		n   *Name
		exp string
	}{
		{n: entry, exp: "entry"},
		{n: loopA, exp: "loop0"},
		{n: loopB, exp: "loop1"},
		{n: done, exp: "done"},
		{n: anon1, exp: "__local0"},
		{n: anon2, exp: "__local1"},
		{n: taken, exp: "entry0"},
	} {
		final, ok := tc.n.Final()
		require.True(t, ok)
		require.Equal(t, tc.exp, final)
	}

	got, ok := ns.Lookup("loop1")
	require.True(t, ok)
	require.Equal(t, loopB, got)
	_, ok = ns.Lookup("loop")
	require.False(t, ok)
}

func TestNamespace_Add(t *testing.T) {
	t.Run("duplicate fixed", func(t *testing.T) {
		ns := NewNamespace(nil)
		require.NoError(t, ns.Add(Fixed("f")))
		require.EqualError(t, ns.Add(Fixed("f")), "name f already exists")
	})
	t.Run("nested scopes", func(t *testing.T) {
		ns := NewNamespace(nil)
		fn := Fixed("kernel")
		inner1, inner2 := Requested("c"), Requested("c")
		other := Requested("c")
		require.NoError(t, ns.Add(fn, inner1))
		require.NoError(t, ns.Add(Fixed("kernel"), inner2))
		require.NoError(t, ns.Add(other))
		ns.Assign()

		require.Equal(t, "c", other.String())
		require.Equal(t, "c0", inner1.String())
		require.Equal(t, "c1", inner2.String())
		got, ok := ns.Lookup("kernel.c1")
		require.True(t, ok)
		require.Equal(t, inner2, got)
	})
	t.Run("string before assignment", func(t *testing.T) {
		require.Equal(t, "<loop>", Requested("loop").String())
		require.Equal(t, "<?>", Requested("").String())
	})
}
