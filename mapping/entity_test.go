package mapping

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type address struct {
	Street string `bson:"street_name"`
	City   string `bson:"city"`
}

type person struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	FirstName string             `bson:"first_name"`
	Age       int
	Home      address   `bson:"home"`
	Previous  []address `bson:"previous"`
	Created   time.Time `bson:"created"`
	Version   int64     `bson:"v" docstore:"version"`
	Ignored   string    `bson:"-"`
	Nickname  *string   `bson:"nick,omitempty"`
	secret    string
}

type stringKeyed struct {
	Key string `bson:"_id"`
}

type intKeyed struct {
	Key int `bson:"_id"`
}

type badVersion struct {
	ID      string `bson:"_id"`
	Version string `docstore:"version"`
}

type twoIDs struct {
	A string `bson:"_id"`
	B string `bson:"_id"`
}

func TestNewEntity(t *testing.T) {
	t.Run("MapsFields", func(t *testing.T) {
		e, err := NewEntity(&person{}, "")
		require.NoError(t, err)

		assert.Equal(t, "person", e.Collection)
		assert.Equal(t, reflect.TypeOf(person{}), e.Type)
		require.NotNil(t, e.ID)
		assert.Equal(t, "ID", e.ID.Name)
		assert.True(t, e.ID.IsObjectID())
		require.True(t, e.HasVersion())
		assert.Equal(t, "v", e.Version.Field)

		p, ok := e.Property("Age")
		require.True(t, ok)
		assert.Equal(t, "age", p.Field)

		p, ok = e.Property("first_name")
		require.True(t, ok)
		assert.Equal(t, "FirstName", p.Name)

		_, ok = e.Property("Ignored")
		assert.False(t, ok)
		_, ok = e.Property("secret")
		assert.False(t, ok)
	})
	t.Run("NestedPaths", func(t *testing.T) {
		e, err := NewEntity(person{}, "people")
		require.NoError(t, err)

		assert.Equal(t, "people", e.Collection)
		assert.Equal(t, "home.street_name", e.FieldName("Home.Street"))
		assert.Equal(t, "previous.city", e.FieldName("Previous.City"))
		assert.Equal(t, "home.unknown", e.FieldName("Home.unknown"))
		assert.Equal(t, "mystery.Street", e.FieldName("mystery.Street"))

		p, ok := e.Property("Created")
		require.True(t, ok)
		assert.Nil(t, p.Nested())
	})
	t.Run("RejectsNonStruct", func(t *testing.T) {
		_, err := NewEntity(42, "")
		assert.Error(t, err)
	})
	t.Run("RejectsNonNumericVersion", func(t *testing.T) {
		_, err := NewEntity(badVersion{}, "")
		assert.Error(t, err)
	})
	t.Run("RejectsDuplicateIDs", func(t *testing.T) {
		_, err := NewEntity(twoIDs{}, "")
		assert.Error(t, err)
	})
}

func TestEntityNilSafety(t *testing.T) {
	var e *Entity

	assert.False(t, e.HasVersion())
	assert.Equal(t, IDField, e.IDFieldName())
	assert.Equal(t, "Some.Path", e.FieldName("Some.Path"))
	assert.True(t, e.CanGenerateID())
	_, ok := e.Property("x")
	assert.False(t, ok)
}

func TestCanGenerateID(t *testing.T) {
	for name, test := range map[string]struct {
		sample   any
		expected bool
	}{
		"ObjectID": {sample: person{}, expected: true},
		"String":   {sample: stringKeyed{}, expected: true},
		"Int":      {sample: intKeyed{}, expected: false},
	} {
		t.Run(name, func(t *testing.T) {
			e, err := NewEntity(test.sample, "")
			require.NoError(t, err)
			assert.Equal(t, test.expected, e.CanGenerateID())
		})
	}
}

type pointerKeyed struct {
	Key *int `bson:"_id"`
}

func TestIDAccess(t *testing.T) {
	t.Run("ObjectIDField", func(t *testing.T) {
		e, err := NewEntity(&person{}, "")
		require.NoError(t, err)

		p := &person{}
		id, ok := e.IDOf(p)
		require.True(t, ok)
		assert.True(t, IsZeroID(id))

		oid := primitive.NewObjectID()
		require.NoError(t, e.SetID(p, oid))
		assert.Equal(t, oid, p.ID)
		id, ok = e.IDOf(*p)
		require.True(t, ok)
		assert.Equal(t, oid, id)
	})
	t.Run("StringFieldTakesHex", func(t *testing.T) {
		e, err := NewEntity(&stringKeyed{}, "")
		require.NoError(t, err)
		assert.True(t, e.IsStringID())

		k := &stringKeyed{}
		oid := primitive.NewObjectID()
		require.NoError(t, e.SetID(k, oid))
		assert.Equal(t, oid.Hex(), k.Key)
	})
	t.Run("PointerField", func(t *testing.T) {
		e, err := NewEntity(&pointerKeyed{}, "")
		require.NoError(t, err)

		k := &pointerKeyed{}
		id, ok := e.IDOf(k)
		require.True(t, ok)
		assert.Nil(t, id)

		require.NoError(t, e.SetID(k, 4))
		require.NotNil(t, k.Key)
		assert.Equal(t, 4, *k.Key)
	})
	t.Run("Errors", func(t *testing.T) {
		e, err := NewEntity(&intKeyed{}, "")
		require.NoError(t, err)
		assert.False(t, e.IsStringID())

		assert.Error(t, e.SetID(&intKeyed{}, "text"))
		assert.Error(t, e.SetID(intKeyed{}, 3))
		_, ok := e.IDOf(&stringKeyed{})
		assert.False(t, ok)
		_, ok = e.IDOf(nil)
		assert.False(t, ok)
	})
}

func TestIsZeroID(t *testing.T) {
	assert.True(t, IsZeroID(nil))
	assert.True(t, IsZeroID(""))
	assert.True(t, IsZeroID(primitive.NilObjectID))
	assert.True(t, IsZeroID(0))
	assert.False(t, IsZeroID("a"))
	assert.False(t, IsZeroID(primitive.NewObjectID()))
	assert.False(t, IsZeroID(7))
}

func TestContext(t *testing.T) {
	c := NewContext()

	_, ok := c.EntityOf(&person{})
	assert.False(t, ok)

	e := c.MustRegister(person{}, "people")

	found, ok := c.EntityOf(&person{})
	require.True(t, ok)
	assert.Equal(t, e, found)

	found, ok = c.Entity(reflect.TypeOf(person{}))
	require.True(t, ok)
	assert.Equal(t, "people", found.Collection)

	_, ok = c.EntityOf(nil)
	assert.False(t, ok)

	assert.Panics(t, func() { c.MustRegister(badVersion{}, "") })

	t.Run("ConcurrentAccess", func(t *testing.T) {
		wg := &sync.WaitGroup{}
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := c.Register(stringKeyed{}, "")
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, ok := c.EntityOf(person{})
				assert.True(t, ok)
			}()
		}
		wg.Wait()
	})
}

func TestBSONConverter(t *testing.T) {
	conv := BSONConverter{}
	nick := "al"
	in := person{ID: primitive.NewObjectID(), FirstName: "Alan", Age: 41, Home: address{City: "NYC"}, Nickname: &nick}

	doc, err := conv.Write(in)
	require.NoError(t, err)
	assert.Equal(t, "Alan", doc["first_name"])
	assert.Equal(t, in.ID, doc["_id"])
	assert.NotContains(t, doc, "Ignored")

	out := person{}
	require.NoError(t, conv.Read(doc, &out))
	assert.Equal(t, in.FirstName, out.FirstName)
	assert.Equal(t, in.Home, out.Home)
	require.NotNil(t, out.Nickname)
	assert.Equal(t, nick, *out.Nickname)

	_, err = conv.Write(nil)
	assert.Error(t, err)
	assert.Error(t, conv.Read(nil, &out))
}

func TestAsDocumentAndList(t *testing.T) {
	doc, ok := AsDocument(primitive.D{{Key: "a", Value: 1}})
	require.True(t, ok)
	assert.Equal(t, 1, doc["a"])

	_, ok = AsDocument("nope")
	assert.False(t, ok)

	list, ok := AsList([]string{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, list)

	_, ok = AsList([]byte("raw"))
	assert.False(t, ok)
	_, ok = AsList(3)
	assert.False(t, ok)
}
