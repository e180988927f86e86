package loader

// ListDocuments returns every supported document under base, relative and
// slash separated, in walk order. A missing base yields an empty list.
func ListDocuments(base string) ([]string, error) {
	return walk(base, nil)
}

// ResolveSelection splits selection into the entries that name an existing
// supported document under base and those that do not. Both keep the
// caller's order and are normalised.
func ResolveSelection(base string, selection []string) (found, missing []string, err error) {
	all, err := walk(base, nil)
	if err != nil {
		return nil, nil, err
	}
	exists := make(map[string]bool, len(all))
	for _, rel := range all {
		exists[rel] = true
	}

	seen := make(map[string]bool, len(selection))
	for _, s := range selection {
		rel := NormalizeRel(s)
		if rel == "" || seen[rel] {
			continue
		}
		seen[rel] = true
		if exists[rel] {
			found = append(found, rel)
		} else {
			missing = append(missing, rel)
		}
	}
	return found, missing, nil
}
