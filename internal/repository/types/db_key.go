package types

const (
	ResourcesPrefix   = "/resources"
	DefinitionsPrefix = "/definitions/"
)

// DbKey is anything addressable in etcd. Keys of a collection end with "/" and are used as prefixes.
type DbKey interface {
	ToKey() string
}
