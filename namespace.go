package docgate

import "strings"

// DevSuffix is appended to physical collection names outside production.
const DevSuffix = "_dev"

// Namespace maps logical collection names, used for permissions and cache
// keys, to the physical names the store sees.
type Namespace struct {
	Suffix string
}

// NamespaceFor returns the namespace used in environment: production uses
// bare names, anything else gets DevSuffix.
func NamespaceFor(environment string) Namespace {
	if strings.EqualFold(environment, "production") {
		return Namespace{}
	}
	return Namespace{Suffix: DevSuffix}
}

// Physical returns the store-side name of collection.
func (n Namespace) Physical(collection string) string {
	if n.Suffix == "" || strings.HasSuffix(collection, n.Suffix) {
		return collection
	}
	return collection + n.Suffix
}

// Logical strips the suffix from a physical name.
func (n Namespace) Logical(physical string) string {
	if n.Suffix == "" {
		return physical
	}
	return strings.TrimSuffix(physical, n.Suffix)
}
