package topic

const (
	// Wildcard matches exactly one topic level.
	Wildcard = "+"
	// MultiWildcard matches the current level and everything below it.
	MultiWildcard = "#"

	// SharePrefix marks a shared subscription: $share/{group}/{filter}.
	SharePrefix = "$share/"
)

// Shared turns filter into a shared subscription of group, so the broker
// delivers each message to only one member. An empty group returns filter.
func Shared(group, filter string) string {
	if group == "" {
		return filter
	}
	return SharePrefix + group + "/" + filter
}
