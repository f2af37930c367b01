package db

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// U describes a set of field modifications. Unlike Q it is a pointer
// type: the template may append a version increment to it.
type U struct {
	doc         bson.M
	replacement bool
}

// NewUpdate returns an empty update.
func NewUpdate() *U {
	return &U{doc: bson.M{}}
}

// Set is shorthand for NewUpdate().Set(key, value).
func Set(key string, value any) *U {
	return NewUpdate().Set(key, value)
}

// Replacement returns an update that replaces the whole document.
func Replacement(doc bson.M) *U {
	return &U{doc: doc, replacement: true}
}

// UpdateFromDocument returns an update setting every key of doc except
// the excluded ones.
func UpdateFromDocument(doc bson.M, exclude ...string) *U {
	u := NewUpdate()
	for key, value := range doc {
		if excluded(key, exclude) {
			continue
		}
		u.Set(key, value)
	}
	return u
}

func excluded(key string, exclude []string) bool {
	for _, e := range exclude {
		if e == key {
			return true
		}
	}
	return false
}

func (u *U) op(operator, key string, value any) *U {
	inner, ok := u.doc[operator].(bson.M)
	if !ok {
		inner = bson.M{}
		u.doc[operator] = inner
	}
	inner[key] = value
	return u
}

func (u *U) Set(key string, value any) *U         { return u.op("$set", key, value) }
func (u *U) SetOnInsert(key string, value any) *U { return u.op("$setOnInsert", key, value) }
func (u *U) Unset(key string) *U                  { return u.op("$unset", key, 1) }
func (u *U) Inc(key string, by any) *U            { return u.op("$inc", key, by) }
func (u *U) Push(key string, value any) *U        { return u.op("$push", key, value) }
func (u *U) AddToSet(key string, value any) *U    { return u.op("$addToSet", key, value) }
func (u *U) Pull(key string, value any) *U        { return u.op("$pull", key, value) }
func (u *U) Rename(key, newName string) *U        { return u.op("$rename", key, newName) }

// PushAll appends every value to the array at key.
func (u *U) PushAll(key string, values ...any) *U {
	return u.op("$push", key, bson.M{"$each": values})
}

// Document returns the update document.
func (u *U) Document() bson.M {
	if u == nil {
		return nil
	}
	return u.doc
}

// IsReplacement reports whether the update replaces the whole document.
func (u *U) IsReplacement() bool { return u != nil && u.replacement }

// IsEmpty reports whether the update changes nothing.
func (u *U) IsEmpty() bool { return u == nil || len(u.doc) == 0 }

// Touches reports whether any clause of the update modifies one of the
// given keys.
func (u *U) Touches(keys ...string) bool {
	if u == nil {
		return false
	}
	for key, value := range u.doc {
		if !strings.HasPrefix(key, "$") {
			if excluded(key, keys) {
				return true
			}
			continue
		}
		inner, ok := value.(bson.M)
		if !ok {
			continue
		}
		for field := range inner {
			if excluded(field, keys) {
				return true
			}
		}
	}
	return false
}
