package source

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chtzvt/docslurp/internal/job"
)

// MongoSource reads a MongoDB or DocumentDB collection sorted by
// (order key, id key).
type MongoSource struct {
	client   *mongo.Client
	coll     *mongo.Collection
	orderKey string
	idKey    string
}

func NewMongoSource(ctx context.Context, opts job.SourceOptions) (Source, error) {
	if opts.Database == "" || opts.Collection == "" {
		return nil, fmt.Errorf("mongodb source requires database and collection")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	return &MongoSource{
		client:   client,
		coll:     client.Database(opts.Database).Collection(opts.Collection),
		orderKey: opts.OrderKey,
		idKey:    opts.IDKey,
	}, nil
}

func (m *MongoSource) Find(ctx context.Context, q Query) (Iterator, error) {
	filter := bson.M{}
	if !q.From.IsZero() {
		filter[m.orderKey] = bson.M{"$gte": q.From}
	}
	fo := options.Find().SetSort(bson.D{{Key: m.orderKey, Value: 1}, {Key: m.idKey, Value: 1}})
	if q.Skip > 0 {
		fo.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		fo.SetLimit(q.Limit)
		fo.SetBatchSize(int32(min(q.Limit, 10_000)))
	}
	cur, err := m.coll.Find(ctx, filter, fo)
	if err != nil {
		return nil, err
	}
	return &mongoIterator{cur: cur, orderKey: m.orderKey, idKey: m.idKey}, nil
}

func (m *MongoSource) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoIterator struct {
	cur      *mongo.Cursor
	orderKey string
	idKey    string
}

func (it *mongoIterator) Next(ctx context.Context) (*Record, error) {
	if !it.cur.Next(ctx) {
		if err := it.cur.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var raw bson.M
	if err := it.cur.Decode(&raw); err != nil {
		return nil, err
	}
	return recordFromDocument(plainMap(raw), it.orderKey, it.idKey)
}

func (it *mongoIterator) Close(ctx context.Context) error {
	return it.cur.Close(ctx)
}

// recordFromDocument builds a Record from a decoded document.
func recordFromDocument(doc map[string]interface{}, orderKey, idKey string) (*Record, error) {
	key, err := OrderKeyOf(doc[orderKey])
	if err != nil {
		return nil, fmt.Errorf("field %q of document %v: %w", orderKey, doc[idKey], err)
	}
	var id string
	if v, ok := doc[idKey]; ok && v != nil {
		id = fmt.Sprint(v)
	}
	return &Record{ID: id, Key: key, Doc: doc}, nil
}

// plain converts driver-specific BSON values into plain Go values.
func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.M:
		return plainMap(t)
	case map[string]interface{}:
		return plainMap(t)
	case primitive.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.A:
		return plainSlice(t)
	case []interface{}:
		return plainSlice(t)
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		return t.String()
	case primitive.Binary:
		return t.Data
	case primitive.Regex:
		return t.String()
	case primitive.JavaScript:
		return string(t)
	case primitive.Symbol:
		return string(t)
	case primitive.Null, primitive.Undefined:
		return nil
	case primitive.MinKey:
		return "$minKey"
	case primitive.MaxKey:
		return "$maxKey"
	default:
		return v
	}
}

func plainMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func plainSlice(a []interface{}) []interface{} {
	out := make([]interface{}, len(a))
	for i, v := range a {
		out[i] = plain(v)
	}
	return out
}

func init() {
	Register("mongodb", NewMongoSource)
	Register("mongodb+srv", NewMongoSource)
}
