package srv6

// undoStack collects compensating actions for a multi-object change. On
// failure the actions run in reverse order so partially created objects are
// removed before the error is returned.
type undoStack []func()

func (u *undoStack) push(f func()) {
	*u = append(*u, f)
}

// unwind runs every pushed action, newest first, and empties the stack.
func (u *undoStack) unwind() {
	for i := len(*u) - 1; i >= 0; i-- {
		(*u)[i]()
	}
	*u = nil
}

// commit drops the pushed actions once the change has succeeded.
func (u *undoStack) commit() {
	*u = nil
}
