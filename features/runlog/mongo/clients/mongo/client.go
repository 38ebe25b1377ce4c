// Package mongo implements the low-level MongoDB client used by the instance
// log store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
)

type (
	// Client exposes Mongo-backed operations for the instance log.
	Client interface {
		health.Pinger

		Append(ctx context.Context, r *runlog.Record) error
		List(ctx context.Context, instanceID, cursor string, limit int) (runlog.Page, error)
		PathOf(ctx context.Context, instanceID string) (string, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	recordDocument struct {
		ID         primitive.ObjectID `bson:"_id,omitempty"`
		InstanceID string             `bson:"instance_id"`
		Type       string             `bson:"type"`
		Path       string             `bson:"path"`
		Payload    []byte             `bson:"payload,omitempty"`
		Final      bool               `bson:"final,omitempty"`
		CreatedAt  time.Time          `bson:"created_at"`
	}
)

const (
	defaultCollection = "aipp_instance_logs"
	defaultTimeout    = 5 * time.Second
	clientName        = "runlog-mongo"
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Append(ctx context.Context, r *runlog.Record) error {
	if r == nil {
		return errors.New("record is required")
	}
	if r.InstanceID == "" {
		return errors.New("instance id is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid log type %q", r.Type)
	}
	if r.CreatedAt.IsZero() {
		return errors.New("created_at is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := recordDocument{
		InstanceID: r.InstanceID,
		Type:       string(r.Type),
		Path:       r.Path.String(),
		Payload:    append([]byte(nil), r.Payload...),
		Final:      r.Final,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	r.ID = oid.Hex()
	return nil
}

func (c *client) List(ctx context.Context, instanceID, cursor string, limit int) (page runlog.Page, err error) {
	if instanceID == "" {
		return runlog.Page{}, errors.New("instance id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, errors.New("limit must be > 0")
	}

	filter := bson.M{"instance_id": instanceID}
	if cursor != "" {
		oid, err := primitive.ObjectIDFromHex(cursor)
		if err != nil {
			return runlog.Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit+1)),
	)
	if err != nil {
		return runlog.Page{}, err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var records []*runlog.Record
	for cur.Next(ctx) {
		var doc recordDocument
		if err := cur.Decode(&doc); err != nil {
			return runlog.Page{}, err
		}
		records = append(records, fromDocument(doc))
	}
	if err := cur.Err(); err != nil {
		return runlog.Page{}, err
	}

	var next string
	if len(records) > limit {
		next = records[limit-1].ID
		records = records[:limit]
	}
	return runlog.Page{
		Records:    records,
		NextCursor: next,
	}, nil
}

// PathOf returns the path stored on the most recent record of instanceID.
func (c *client) PathOf(ctx context.Context, instanceID string) (string, error) {
	if instanceID == "" {
		return "", errors.New("instance id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc recordDocument
	err := c.coll.FindOne(ctx, bson.M{"instance_id": instanceID}, options.FindOne().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetProjection(bson.M{"path": 1}),
	).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return "", runlog.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.Path, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// fromDocument converts a stored document. Malformed stored paths are kept
// as a single-element path of the instance so routing degrades to the
// instance's own session.
func fromDocument(doc recordDocument) *runlog.Record {
	path, err := runlog.ParsePath(doc.Path)
	if err != nil {
		path = runlog.Path{doc.InstanceID}
	}
	return &runlog.Record{
		ID:         doc.ID.Hex(),
		InstanceID: doc.InstanceID,
		Type:       runlog.LogType(doc.Type),
		Path:       path,
		Payload:    append([]byte(nil), doc.Payload...),
		Final:      doc.Final,
		CreatedAt:  doc.CreatedAt,
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "instance_id", Value: 1},
			{Key: "_id", Value: 1},
		},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
