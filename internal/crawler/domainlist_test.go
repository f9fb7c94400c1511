package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainListExactAndWildcard(t *testing.T) {
	t.Parallel()
	list := NewDomainList([]string{"example.com", "*.shop.example", ".blog.example", " "})

	require.True(t, list.Contains("example.com"))
	require.True(t, list.Contains("EXAMPLE.COM"))
	require.False(t, list.Contains("sub.example.com"))

	require.True(t, list.Contains("a.shop.example"))
	require.True(t, list.Contains("shop.example"))
	require.True(t, list.Contains("deep.a.blog.example"))
	require.False(t, list.Contains("notshop.example"))
}

func TestDomainListEmptyMatchesNothing(t *testing.T) {
	t.Parallel()
	require.Nil(t, NewDomainList(nil))
	require.Nil(t, NewDomainList([]string{"", "  "}))
	require.False(t, NewDomainList(nil).Contains("example.com"))
}

func TestDomainPolicyDenyWins(t *testing.T) {
	t.Parallel()
	policy := NewDomainPolicy([]string{"*.example.com"}, []string{"bad.example.com"})

	require.True(t, policy.Allowed("good.example.com"))
	require.False(t, policy.Allowed("bad.example.com"))
	// Allow list is exclusive once set.
	require.False(t, policy.Allowed("other.net"))
}

func TestDomainPolicyOpenByDefault(t *testing.T) {
	t.Parallel()
	policy := NewDomainPolicy(nil, nil)
	require.True(t, policy.Allowed("anything.example"))

	var nilPolicy *DomainPolicy
	require.True(t, nilPolicy.Allowed("anything.example"))
}

func TestDomainPolicyDenyOnly(t *testing.T) {
	t.Parallel()
	policy := NewDomainPolicy(nil, []string{"*.tracker.example"})
	require.False(t, policy.Allowed("a.tracker.example"))
	require.True(t, policy.Allowed("example.com"))
}
