// Package access decides who may see the dashboard.
//
// The decision is a pure function of an identity and an allow-list built once
// at startup. There is no global list: main constructs an AllowList from
// config and passes it to whoever needs to decide.
package access

import (
	"sort"
	"strings"

	"github.com/tinova-ai/tinova-web/internal/model"
)

// DemoUsernames is the allow-list used when none is configured, so a fresh
// checkout shows every dashboard state without extra setup.
var DemoUsernames = []string{"octocat"}

// Decider is the single source of truth for dashboard access.
type Decider interface {
	IsAuthorized(identity *model.Identity) bool
}

// AllowList is an immutable set of GitHub usernames.
//
// GitHub logins are case-insensitive ("Octocat" and "octocat" are the same
// account), so membership is tested on the lower-cased login.
type AllowList struct {
	usernames     map[string]struct{}
	display       []string
	usingFallback bool
}

var _ Decider = (*AllowList)(nil)

// NewAllowList builds the set from the configured usernames. An empty list
// falls back to DemoUsernames.
func NewAllowList(usernames []string) *AllowList {
	fallback := false
	if len(nonBlank(usernames)) == 0 {
		usernames = DemoUsernames
		fallback = true
	}

	a := &AllowList{
		usernames:     make(map[string]struct{}, len(usernames)),
		usingFallback: fallback,
	}
	for _, u := range nonBlank(usernames) {
		key := normalize(u)
		if _, dup := a.usernames[key]; dup {
			continue
		}
		a.usernames[key] = struct{}{}
		a.display = append(a.display, u)
	}
	sort.Strings(a.display)
	return a
}

// IsAuthorized reports whether identity's username is on the list.
// It never performs I/O and is false for a nil identity or blank username.
func (a *AllowList) IsAuthorized(identity *model.Identity) bool {
	if a == nil || identity == nil {
		return false
	}
	key := normalize(identity.Username)
	if key == "" {
		return false
	}
	_, ok := a.usernames[key]
	return ok
}

// Len is the number of distinct usernames on the list.
func (a *AllowList) Len() int { return len(a.usernames) }

// UsingFallback reports whether the demo list is in effect.
func (a *AllowList) UsingFallback() bool { return a.usingFallback }

// Usernames returns a sorted copy of the configured usernames as written.
func (a *AllowList) Usernames() []string {
	out := make([]string, len(a.display))
	copy(out, a.display)
	return out
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
