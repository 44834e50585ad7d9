package tether

// errorLog holds the last errors a binder wrote to its cell, oldest first.
// A nil log records nothing. The owning binder's mu guards it.
type errorLog struct {
	limit int
	errs  []error
}

func newErrorLog(limit int) *errorLog {
	if limit <= 0 {
		return nil
	}
	return &errorLog{limit: limit, errs: make([]error, 0, limit)}
}

func (l *errorLog) record(err error) {
	if l == nil {
		return
	}
	if len(l.errs) == l.limit {
		copy(l.errs, l.errs[1:])
		l.errs = l.errs[:l.limit-1]
	}
	l.errs = append(l.errs, err)
}

// reset forgets recorded errors; a value reaching the cell ends the streak.
func (l *errorLog) reset() {
	if l == nil {
		return
	}
	clear(l.errs)
	l.errs = l.errs[:0]
}

func (l *errorLog) snapshot() []error {
	if l == nil || len(l.errs) == 0 {
		return nil
	}
	return append([]error(nil), l.errs...)
}
