package engine

import (
	"sort"

	"github.com/gustycube/baxter/internal/types"
)

// Cluster is a prefix together with its distinct observed members.
type Cluster struct {
	Prefix   string
	Notation string
	Members  []string
}

// BuildClusters groups observations by prefix and keeps the prefixes with at
// least minimum distinct members. Clusters come back sorted by prefix and
// members ascending by address.
func BuildClusters(obs []types.AddressObservation, minimum int) []Cluster {
	members := make(map[string]map[string]struct{})
	for _, o := range obs {
		prefix, ok := types.PrefixOf(o.Address)
		if !ok {
			continue
		}
		set, ok := members[prefix]
		if !ok {
			set = make(map[string]struct{})
			members[prefix] = set
		}
		set[o.Address] = struct{}{}
	}

	var out []Cluster
	for prefix, set := range members {
		if len(set) < minimum {
			continue
		}
		addrs := make([]string, 0, len(set))
		for a := range set {
			addrs = append(addrs, a)
		}
		types.SortAddresses(addrs)
		out = append(out, Cluster{Prefix: prefix, Notation: types.Notation(prefix), Members: addrs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}
