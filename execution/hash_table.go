package execution

import (
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/storage"
)

// ExecutionHashTable is a generic wrapper around a Go map keyed by lists of Values.
// It is optimized for single-threaded execution operators (Aggregates, Hash Joins).
type ExecutionHashTable[T any] struct {
	// The map key is the storage.AppendKey encoding of the key values. Go does not support slices as keys.
	table map[string]entry[T]

	// scratchBuffer is a reusable byte slice for serializing keys during lookups.
	scratchBuffer []byte
}

type entry[T any] struct {
	key   storage.Tuple
	value T
}

func NewExecutionHashTable[T any]() *ExecutionHashTable[T] {
	return &ExecutionHashTable[T]{
		table: make(map[string]entry[T]),
	}
}

// Insert adds a value to the hash table, replacing any value stored under an equal key.
// The key is copied, so the caller may reuse its buffer.
func (ht *ExecutionHashTable[T]) Insert(key []common.Value, value T) {
	ht.scratchBuffer = storage.AppendKey(ht.scratchBuffer[:0], key...)
	// Standard conversion: allocates memory and copies bytes. The map needs to own the key string, and
	// scratchBuffer will be overwritten.
	ht.table[string(ht.scratchBuffer)] = entry[T]{key: storage.FromValues(key...).DeepCopy(), value: value}
}

// Get returns the value stored under key.
func (ht *ExecutionHashTable[T]) Get(key []common.Value) (value T, exists bool) {
	ht.scratchBuffer = storage.AppendKey(ht.scratchBuffer[:0], key...)
	// Go should automatically optimize and avoid a heap allocation here
	e, exists := ht.table[string(ht.scratchBuffer)]
	return e.value, exists
}

// Len returns the number of distinct keys.
func (ht *ExecutionHashTable[T]) Len() int {
	return len(ht.table)
}

// Iterate loops over all key-value pairs in the hash table and calls the provided callback function for each.
// The order is unspecified.
func (ht *ExecutionHashTable[T]) Iterate(iter func(key storage.Tuple, value T)) {
	for _, e := range ht.table {
		iter(e.key, e.value)
	}
}
