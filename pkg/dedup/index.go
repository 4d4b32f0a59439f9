package dedup

import "github.com/jdziat/strand-jobs/pkg/core"

// Key is the identity two submissions must share to collapse.
type Key struct {
	Type        core.JobType
	Fingerprint string
}

// Index maps each in-flight identity to the id of the job that owns it.
//
// Index does no locking of its own. Callers serialize access so that a
// lookup followed by an Add is atomic.
type Index struct {
	owners map[Key]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{owners: make(map[Key]string)}
}

// Lookup returns the job currently owning key.
func (ix *Index) Lookup(key Key) (string, bool) {
	id, ok := ix.owners[key]
	return id, ok
}

// Add records jobID as the owner of key. It returns false and leaves the
// index untouched when key already has an owner.
func (ix *Index) Add(key Key, jobID string) bool {
	if _, taken := ix.owners[key]; taken {
		return false
	}
	ix.owners[key] = jobID
	return true
}

// Remove drops key only while it is still owned by jobID.
func (ix *Index) Remove(key Key, jobID string) bool {
	if owner, ok := ix.owners[key]; ok && owner == jobID {
		delete(ix.owners, key)
		return true
	}
	return false
}

// Len returns the number of in-flight identities.
func (ix *Index) Len() int {
	return len(ix.owners)
}

// Reset empties the index.
func (ix *Index) Reset() {
	ix.owners = make(map[Key]string)
}
