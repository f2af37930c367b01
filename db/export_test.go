package db

// CursorPreparerFor exposes the preparer reads use for q against
// target's collection.
func (t *Template) CursorPreparerFor(target Target, q Q) (CursorPreparer, error) {
	_, entity, err := t.resolve(target)
	if err != nil {
		return nil, err
	}
	return t.newCursorPreparer(q, entity), nil
}
