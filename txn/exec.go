package txn

// ExecuteRead runs fn in a read transaction.
func ExecuteRead(c *Coordinator, fn func(t *Transaction) error) error {
	_, err := CalculateRead(c, func(t *Transaction) (struct{}, error) {
		return struct{}{}, fn(t)
	})
	return err
}

// ExecuteWrite runs fn in a write transaction, committing if fn succeeds
// and aborting otherwise.
func ExecuteWrite(c *Coordinator, fn func(t *Transaction) error) error {
	_, err := CalculateWrite(c, func(t *Transaction) (struct{}, error) {
		return struct{}{}, fn(t)
	})
	return err
}

func CalculateRead[T any](c *Coordinator, fn func(t *Transaction) (T, error)) (T, error) {
	return calculate(c, READ, fn)
}

func CalculateWrite[T any](c *Coordinator, fn func(t *Transaction) (T, error)) (T, error) {
	return calculate(c, WRITE, fn)
}

func calculate[T any](c *Coordinator, mode Mode, fn func(t *Transaction) (T, error)) (T, error) {
	var zero T
	t, err := c.Begin(mode, true)
	if err != nil {
		return zero, err
	}
	defer t.End()
	v, err := fn(t)
	if err != nil {
		t.Abort()
		return zero, err
	}
	if err := t.Commit(); err != nil {
		return zero, err
	}
	return v, nil
}
