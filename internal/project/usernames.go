package project

import "sort"

// Reserved user names that may be used as run-user, with their fixed ids.
// The same id is used for the user's primary group.
var globalUsers = map[string]int{
	"_daemon_": 584792,
}

// Returns the reserved id for a global user name.
func UID(username string) (int, bool) {
	uid, ok := globalUsers[username]
	return uid, ok
}

// Returns the reserved user names in sorted order.
func GlobalUsernames() []string {
	names := make([]string, 0, len(globalUsers))
	for n := range globalUsers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
