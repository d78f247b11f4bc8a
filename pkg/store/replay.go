package store

// ReplayTarget adapts a Store to pkg/aof.Applier, discarding the
// added/existed booleans the live command path needs but replay does not.
type ReplayTarget struct {
	*Store
}

func (r ReplayTarget) Set(key string, value []byte) error {
	return r.Store.Set(key, value)
}

func (r ReplayTarget) Del(key string) error {
	_, err := r.Store.Delete(key)
	return err
}

func (r ReplayTarget) ZAdd(key string, score float64, member string) error {
	_, err := r.Store.ZAdd(key, score, member)
	return err
}

func (r ReplayTarget) ZRem(key, member string) error {
	_, err := r.Store.ZRem(key, member)
	return err
}
