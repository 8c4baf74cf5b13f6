package types

// KeyValue is a stored value with the etcd revisions it was written at
type KeyValue struct {
	Key            string
	Value          []byte
	CreateRevision int64
	ModRevision    int64
}

// Batch is the result of a prefix read. Revision is the store revision the read was served at.
type Batch struct {
	Revision int64
	KVs      []KeyValue
}
