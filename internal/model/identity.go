// Package model defines the data structures shared across the gate.
package model

import "strings"

// ProviderGitHub is the only identity provider the gate understands.
const ProviderGitHub = "github"

// Identity is a verified GitHub profile.
//
// An Identity only ever comes from the trusted intermediary's code exchange
// or from GitHub's public profile endpoint; the gate never builds one from
// user input alone. Treat it as a value: copy it, don't edit it.
//
// WHY ID int64 AND Username?
// GitHub's numeric ID is stable forever, while the login can be renamed.
// The allow-list is keyed by login (that's what admins know), so we keep both:
// the ID lets us notice when the exchange and the public lookup disagree.
type Identity struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`        // GitHub login, e.g. "octocat"
	DisplayName string `json:"displayName"`     // Profile name, falls back to the login
	Email       string `json:"email,omitempty"` // Empty if hidden in GitHub settings
	AvatarURL   string `json:"avatarUrl"`       // Profile picture URL
	Provider    string `json:"provider"`        // Always ProviderGitHub
}

// NewGitHubIdentity builds an Identity from the fields GitHub returns.
// A blank display name falls back to the login, which is what github.com shows.
func NewGitHubIdentity(id int64, login, name, email, avatarURL string) Identity {
	name = strings.TrimSpace(name)
	if name == "" {
		name = login
	}
	return Identity{
		ID:          id,
		Username:    login,
		DisplayName: name,
		Email:       email,
		AvatarURL:   avatarURL,
		Provider:    ProviderGitHub,
	}
}
