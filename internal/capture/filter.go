package capture

import "strings"

// Filter selects packets by textual address prefix. An empty prefix list, or
// an empty address, accepts everything.
type Filter struct {
	Sources      []string
	Destinations []string
}

// Accept reports whether a packet from src to dst passes both prefix lists.
func (f Filter) Accept(src, dst string) bool {
	return matchPrefix(src, f.Sources) && matchPrefix(dst, f.Destinations)
}

func matchPrefix(addr string, prefixes []string) bool {
	if addr == "" || len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(addr, p) {
			return true
		}
	}
	return false
}
