package launcher

import "strings"

// splitPorts parses a comma-space-separated port list into opaque tokens.
// Port token equality is byte-exact string equality; there is no
// normalization and no numeric parsing, since configurations mix symbolic
// tokens ("Services/www") with numeric ones ("139") and must keep working
// unchanged.
func splitPorts(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}

	fields := strings.Split(csv, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}

	return out
}

// intersects reports whether a and b share at least one token.
func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}

	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}

	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}

	return false
}

// requiredPortsInList returns the subset of a routine's required ports that
// also appear in nonSimult. A catalog error, or an empty list on either
// side, is treated conservatively as "no common ports" rather than
// surfaced.
func requiredPortsInList(catalog Catalog, oid string, nonSimult []string) []string {
	if oid == "" || len(nonSimult) == 0 {
		return nil
	}

	csv, err := catalog.RequiredPorts(oid)
	if err != nil || strings.TrimSpace(csv) == "" {
		return nil
	}

	required := splitPorts(csv)
	if len(required) == 0 {
		return nil
	}

	var common []string
	for _, port := range nonSimult {
		for _, r := range required {
			if r == port {
				common = append(common, port)
				break
			}
		}
	}

	return common
}

// portsConflict is the Conflict Oracle: it reports whether oidA and oidB
// may not run concurrently, because each requires at least one of the same
// non-simultaneous ports. It is pure beyond the catalog reads it performs,
// and is safe to call from any goroutine without locking, since it touches
// no shared launcher state.
func portsConflict(catalog Catalog, oidA, oidB string, nonSimult []string) bool {
	a := requiredPortsInList(catalog, oidA, nonSimult)
	if len(a) == 0 {
		return false
	}

	b := requiredPortsInList(catalog, oidB, nonSimult)
	if len(b) == 0 {
		return false
	}

	return intersects(a, b)
}
