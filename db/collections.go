package db

import (
	"context"
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// CollectionOptions are the creation options of a collection.
type CollectionOptions struct {
	Capped bool  `mapstructure:"capped" bson:"capped,omitempty" json:"capped,omitempty" yaml:"capped"`
	Size   int64 `mapstructure:"size" bson:"size,omitempty" json:"size,omitempty" yaml:"size"`
	Max    int64 `mapstructure:"max" bson:"max,omitempty" json:"max,omitempty" yaml:"max"`
}

// CollectionOptionsFromDocument decodes the recognized keys of doc.
// Numeric values of any width are accepted; other keys are ignored.
func CollectionOptionsFromDocument(doc map[string]any) (CollectionOptions, error) {
	opts := CollectionOptions{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return opts, errors.Wrap(err, "making collection options decoder")
	}
	if err := decoder.Decode(doc); err != nil {
		return opts, errors.Wrap(err, "decoding collection options")
	}
	return opts, nil
}

// Validate checks that a capped collection has a size.
func (o CollectionOptions) Validate() error {
	if o.Size < 0 || o.Max < 0 {
		return invalidUsage("collection size and max must not be negative")
	}
	if o.Capped && o.Size == 0 {
		return invalidUsage("a capped collection requires a size")
	}
	return nil
}

// Document renders the options for the create command. Unset values
// are omitted.
func (o CollectionOptions) Document() bson.M {
	doc := bson.M{}
	if o.Capped {
		doc["capped"] = true
	}
	if o.Size > 0 {
		doc["size"] = o.Size
	}
	if o.Max > 0 {
		doc["max"] = o.Max
	}
	return doc
}

// CreateCollection creates a collection with the given options.
func (t *Template) CreateCollection(ctx context.Context, name string, opts CollectionOptions) error {
	if name == "" {
		return invalidUsage("collection name must not be empty")
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	t.logger.Debug(message.Fields{
		"message":    "create collection",
		"collection": name,
		"options":    opts.Document(),
	})
	return t.translate(t.db.CreateCollection(ctx, name, opts.Document()))
}

// CreateCollectionFor creates the collection mapped for target.
func (t *Template) CreateCollectionFor(ctx context.Context, target Target, opts CollectionOptions) error {
	name, _, err := t.resolve(target)
	if err != nil {
		return err
	}
	return t.CreateCollection(ctx, name, opts)
}

// CollectionExists reports whether the collection for target exists.
func (t *Template) CollectionExists(ctx context.Context, target Target) (bool, error) {
	name, _, err := t.resolve(target)
	if err != nil {
		return false, err
	}
	exists, err := t.db.CollectionExists(ctx, name)
	if err != nil {
		return false, t.translate(err)
	}
	return exists, nil
}

// DropCollection drops the collection for target. Dropping a missing
// collection is not an error.
func (t *Template) DropCollection(ctx context.Context, target Target) error {
	name, _, err := t.resolve(target)
	if err != nil {
		return err
	}
	t.logger.Debug(message.Fields{
		"message":    "drop collection",
		"collection": name,
	})
	return t.translate(t.db.DropCollection(ctx, name))
}

// CollectionNames returns the names of the database's collections in
// sorted order.
func (t *Template) CollectionNames(ctx context.Context) ([]string, error) {
	names, err := t.db.CollectionNames(ctx)
	if err != nil {
		return nil, t.translate(err)
	}
	sort.Strings(names)
	return names, nil
}
