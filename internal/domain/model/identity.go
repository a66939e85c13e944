package model

import "strconv"

// Identity is the already-resolved user behind a connection.
// The hub trusts it as given; credential checks happen before attach.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Presence is the entry shown to peers for one connection.
// It is always copied by value out of the registry.
type Presence = Identity

// IsZero reports whether the identity carries no user.
func (i Identity) IsZero() bool {
	return i.UserID == 0 && i.Username == ""
}

func (i Identity) String() string {
	return i.Username + "#" + strconv.FormatInt(i.UserID, 10)
}
