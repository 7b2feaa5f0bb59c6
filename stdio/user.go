package stdio

import (
	"os/user"
)

// PeerUserHeader carries the peer's user ID on every request the handler
// dispatches, so method handlers can attribute calls.
const PeerUserHeader = "X-Peer-User"

// UserProvider provides a string user ID to associate with the stdio peer.
// Stdio has no credentials of its own; the peer is whoever spawned the
// process.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider resolves the user ID using the operating system's current user.
// The returned ID is user.Username when available; falling back to user.Uid.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}

// StaticUserProvider reports a fixed user ID.
type StaticUserProvider string

func (s StaticUserProvider) CurrentUserID() (string, error) { return string(s), nil }
