package types

// HasAllCapabilities reports whether have covers every entry in required.
// An empty required set is satisfied by any capability set.
func HasAllCapabilities(have, required []string) bool {
	if len(required) == 0 {
		return true
	}
	if len(have) == 0 {
		return false
	}
	capSet := make(map[string]struct{}, len(have))
	for _, c := range have {
		capSet[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := capSet[c]; !ok {
			return false
		}
	}
	return true
}

// MissingCapabilities returns the entries of required not present in have.
func MissingCapabilities(have, required []string) []string {
	capSet := make(map[string]struct{}, len(have))
	for _, c := range have {
		capSet[c] = struct{}{}
	}
	var missing []string
	for _, c := range required {
		if _, ok := capSet[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}
