package redis

// Key layout, relative to the store prefix:
//
//	checkpoint:{id}        JSON encoded checkpoint
//	execution:{id}         sorted set of the checkpoint ids of an execution
//	resumable              sorted set of the paused and failed checkpoint ids
//	created                sorted set of every checkpoint id
//
// Sorted sets are scored by the creation time in microseconds.

func (s *Store) checkpointKey(id string) string { return s.prefix + "checkpoint:" + id }

func (s *Store) executionKey(executionID string) string { return s.prefix + "execution:" + executionID }

func (s *Store) resumableKey() string { return s.prefix + "resumable" }

func (s *Store) createdKey() string { return s.prefix + "created" }
