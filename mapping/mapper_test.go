package mapping

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMapQuery(t *testing.T) {
	Convey("With a mapper and a registered entity", t, func() {
		mapper := NewMapper(nil)
		entity, err := NewEntity(person{}, "people")
		So(err, ShouldBeNil)

		Convey("domain field names should be translated to storage keys", func() {
			mapped := mapper.MapQuery(bson.M{"FirstName": "Alan", "Home.Street": "Main"}, entity)
			So(mapped, ShouldResemble, bson.M{"first_name": "Alan", "home.street_name": "Main"})
		})

		Convey("unknown fields should pass through verbatim", func() {
			mapped := mapper.MapQuery(bson.M{"whatever": 1, "$where": "this.x"}, entity)
			So(mapped, ShouldResemble, bson.M{"whatever": 1, "$where": "this.x"})
		})

		Convey("the input query should not be modified", func() {
			query := bson.M{"FirstName": bson.M{"$in": []any{"a", "b"}}}
			mapper.MapQuery(query, entity)
			So(query, ShouldResemble, bson.M{"FirstName": bson.M{"$in": []any{"a", "b"}}})
		})

		Convey("hex strings for an ObjectID field should become ObjectIDs", func() {
			oid := primitive.NewObjectID()
			mapped := mapper.MapQuery(bson.M{"ID": oid.Hex()}, entity)
			So(mapped["_id"], ShouldEqual, oid)

			mapped = mapper.MapQuery(bson.M{"_id": bson.M{"$in": []any{oid.Hex(), "not-hex"}}}, entity)
			So(mapped["_id"], ShouldResemble, bson.M{"$in": []any{oid, "not-hex"}})
		})

		Convey("combinator clauses should be mapped recursively", func() {
			mapped := mapper.MapQuery(bson.M{"$or": []any{
				bson.M{"FirstName": "a"},
				bson.M{"Age": bson.M{"$gt": 3}},
			}}, entity)
			So(mapped, ShouldResemble, bson.M{"$or": []any{
				bson.M{"first_name": "a"},
				bson.M{"age": bson.M{"$gt": 3}},
			}})
		})

		Convey("$elemMatch should use the element type's mapping", func() {
			mapped := mapper.MapQuery(bson.M{"Previous": bson.M{"$elemMatch": bson.M{"Street": "Elm"}}}, entity)
			So(mapped, ShouldResemble, bson.M{"previous": bson.M{"$elemMatch": bson.M{"street_name": "Elm"}}})
		})

		Convey("struct values should be converted to documents", func() {
			mapped := mapper.MapQuery(bson.M{"Home": address{Street: "Main", City: "NYC"}}, entity)
			So(mapped["home"], ShouldResemble, bson.M{"street_name": "Main", "city": "NYC"})
		})

		Convey("a nil query should map to nil", func() {
			So(mapper.MapQuery(nil, entity), ShouldBeNil)
		})
	})

	Convey("Without an entity", t, func() {
		mapper := NewMapper(nil)

		Convey("keys and values should be copied unchanged", func() {
			oid := primitive.NewObjectID()
			mapped := mapper.MapQuery(bson.M{"FirstName": "Alan", "_id": oid.Hex()}, nil)
			So(mapped, ShouldResemble, bson.M{"FirstName": "Alan", "_id": oid.Hex()})
		})
	})
}

func TestMapUpdate(t *testing.T) {
	Convey("With a mapper and a registered entity", t, func() {
		mapper := NewMapper(nil)
		entity, err := NewEntity(person{}, "people")
		So(err, ShouldBeNil)

		Convey("operator field keys should be translated", func() {
			mapped := mapper.MapUpdate(bson.M{
				"$set":   bson.M{"FirstName": "Bob", "Home.City": "LA"},
				"$inc":   bson.M{"Age": 1},
				"$unset": bson.M{"Nickname": ""},
			}, entity)
			So(mapped, ShouldResemble, bson.M{
				"$set":   bson.M{"first_name": "Bob", "home.city": "LA"},
				"$inc":   bson.M{"age": 1},
				"$unset": bson.M{"nick": ""},
			})
		})

		Convey("$rename targets should be translated too", func() {
			mapped := mapper.MapUpdate(bson.M{"$rename": bson.M{"FirstName": "Age"}}, entity)
			So(mapped, ShouldResemble, bson.M{"$rename": bson.M{"first_name": "age"}})
		})

		Convey("$push with $each should convert every element", func() {
			mapped := mapper.MapUpdate(bson.M{"$push": bson.M{"Previous": bson.M{"$each": []any{address{City: "A"}}}}}, entity)
			So(mapped, ShouldResemble, bson.M{"$push": bson.M{"previous": bson.M{
				"$each": []any{bson.M{"street_name": "", "city": "A"}},
			}}})
		})

		Convey("a replacement document should have its keys translated", func() {
			mapped := mapper.MapUpdate(bson.M{"FirstName": "Carl", "Home": bson.M{"Street": "Elm"}}, entity)
			So(mapped, ShouldResemble, bson.M{"first_name": "Carl", "home": bson.M{"street_name": "Elm"}})
		})
	})
}
