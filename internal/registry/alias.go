package registry

import "path/filepath"

const DefaultAliasEntry = "index.ts"

// SourceAliases maps each requested package to root/src/entry so a dev
// server can import sources directly. Names absent from the registry are
// skipped.
func SourceAliases(reg *Registry, names []string, entry string) map[string]string {
	if entry == "" {
		entry = DefaultAliasEntry
	}
	aliases := make(map[string]string, len(names))
	for _, name := range names {
		root, ok := reg.Lookup(name)
		if !ok {
			continue
		}
		aliases[name] = filepath.Join(root, "src", entry)
	}
	return aliases
}
