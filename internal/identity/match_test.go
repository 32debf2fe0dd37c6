package identity

import "testing"

import "github.com/stretchr/testify/require"

func TestMatchWildcard(t *testing.T) {
	cases := []struct {
		pattern, value string
		fuzzy          bool
		want           bool
	}{
		{"DOE*", "DOE^JOHN", false, true},
		{"DOE*", "ROE^JANE", false, false},
		{"doe*", "DOE^JOHN", false, true},
		{"D?E*", "DOE^JOHN", false, true},
		{"*JOHN", "DOE^JOHN", false, true},
		{"JOHN", "DOE^JOHN", true, true},
		{"john", "DOE^JOHN", true, true},
		{"ZZZ", "DOE^JOHN", true, false},
		{`A\*B`, "A*B", false, true},
		{`A\*B`, "AXB", false, false},
	}
	for _, c := range cases {
		got := MatchWildcard(c.pattern, c.value, c.fuzzy)
		require.Equalf(t, c.want, got, "pattern=%q value=%q fuzzy=%v", c.pattern, c.value, c.fuzzy)
	}
}

func TestMatchSet(t *testing.T) {
	require.True(t, MatchSet(nil, []string{"CT", "MR"}))
	require.True(t, MatchSet([]string{"CT"}, []string{"CT", "MR"}))
	require.False(t, MatchSet([]string{"US"}, []string{"CT", "MR"}))
}

func TestDateRangeContains(t *testing.T) {
	r := DateRange{Start: "20200101", End: "20201231"}
	require.True(t, r.Contains("20200615"))
	require.False(t, r.Contains("20190101"))
	require.False(t, r.Contains(""))

	single := DateRange{Start: "20200101", End: "20200101"}
	require.True(t, single.Contains("20200101"))
	require.False(t, single.Contains("20200102"))
}
