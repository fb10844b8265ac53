package quota

import "strconv"

// Key identifies whose lookups are being counted. A zero UserID is an
// anonymous caller; Fingerprint (typically the client IP) distinguishes
// anonymous callers when anonymous tracking is on.
type Key struct {
	UserID      int64
	Fingerprint string
}

// UserKey returns the key for a signed-in user.
func UserKey(userID int64) Key {
	return Key{UserID: userID}
}

// Anonymous reports whether the key has no user.
func (k Key) Anonymous() bool {
	return k.UserID <= 0
}

// String is the persisted form: "user:<id>" or "anon:<fingerprint>".
func (k Key) String() string {
	if k.Anonymous() {
		return "anon:" + k.Fingerprint
	}
	return "user:" + strconv.FormatInt(k.UserID, 10)
}
