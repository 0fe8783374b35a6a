package shellcache

import (
	"github.com/pkg/errors"
)

type GenerationInfo struct {
	Name    string
	Entries int
	Current bool
}

// ListGenerations reports every stored generation and its entry count,
// marking the one named current.
func ListGenerations(storage CacheStorage, current string) ([]GenerationInfo, error) {
	names, err := storage.Names()
	if err != nil {
		return nil, err
	}
	out := make([]GenerationInfo, 0, len(names))
	for _, name := range names {
		c, found, err := storage.Lookup(name)
		if err != nil {
			return nil, errors.Wrapf(err, "lookup %s", name)
		}
		if !found {
			continue
		}
		keys, err := c.Keys()
		if err != nil {
			return nil, errors.Wrapf(err, "keys %s", name)
		}
		out = append(out, GenerationInfo{Name: name, Entries: len(keys), Current: name == current})
	}
	return out, nil
}

// PruneGenerations deletes every generation except current and returns the
// deleted names.
func PruneGenerations(storage CacheStorage, current string) ([]string, error) {
	names, err := storage.Names()
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, name := range names {
		if name == current {
			continue
		}
		if _, err := storage.Delete(name); err != nil {
			return deleted, errors.Wrapf(err, "delete %s", name)
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
