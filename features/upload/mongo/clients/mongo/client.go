// Package mongo hosts the MongoDB client used by the upload store.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/upload"
)

const (
	defaultFilesCollection = "aipp_uploads"
	defaultOpTimeout       = 5 * time.Second
	uploadClientName       = "upload-mongo"
)

// Client exposes Mongo-backed operations for file records.
type Client interface {
	health.Pinger

	InsertFile(ctx context.Context, f upload.File) (upload.File, error)
	LoadFile(ctx context.Context, id string) (upload.File, error)
	ListFiles(ctx context.Context, appID string) ([]upload.File, error)
	DeleteFile(ctx context.Context, id string) error
}

// Options configures the Mongo upload client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
	now     func() time.Time
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultFilesCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	wrapper := mongoCollection{coll: mcoll}
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "app_id", Value: 1}, {Key: "created_at", Value: 1}},
	}
	if _, err := wrapper.Indexes().CreateOne(ctx, index); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: wrapper, timeout: timeout, now: time.Now}, nil
}

func (c *client) Name() string {
	return uploadClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) InsertFile(ctx context.Context, f upload.File) (upload.File, error) {
	if err := f.Validate(); err != nil {
		return upload.File{}, err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = c.now().UTC()
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.coll.InsertOne(ctx, fromFile(f)); err != nil {
		return upload.File{}, err
	}
	return f, nil
}

func (c *client) LoadFile(ctx context.Context, id string) (upload.File, error) {
	if id == "" {
		return upload.File{}, errors.New("file id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc fileDocument
	if err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return upload.File{}, upload.ErrNotFound
		}
		return upload.File{}, err
	}
	return doc.toFile(), nil
}

func (c *client) ListFiles(ctx context.Context, appID string) ([]upload.File, error) {
	if appID == "" {
		return nil, errors.New("app id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := c.coll.Find(ctx, bson.M{"app_id": appID}, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []upload.File
	for cur.Next(ctx) {
		var doc fileDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toFile())
	}
	return out, cur.Err()
}

func (c *client) DeleteFile(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("file id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return upload.ErrNotFound
	}
	return nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type fileDocument struct {
	ID          string    `bson:"_id"`
	AppID       string    `bson:"app_id"`
	Name        string    `bson:"name"`
	URL         string    `bson:"url"`
	ContentType string    `bson:"content_type,omitempty"`
	Size        int64     `bson:"size"`
	CreatedAt   time.Time `bson:"created_at"`
}

func fromFile(f upload.File) fileDocument {
	return fileDocument{
		ID:          f.ID,
		AppID:       f.AppID,
		Name:        f.Name,
		URL:         f.URL,
		ContentType: f.ContentType,
		Size:        f.Size,
		CreatedAt:   f.CreatedAt.UTC(),
	}
}

func (doc fileDocument) toFile() upload.File {
	return upload.File{
		ID:          doc.ID,
		AppID:       doc.AppID,
		Name:        doc.Name,
		URL:         doc.URL,
		ContentType: doc.ContentType,
		Size:        doc.Size,
		CreatedAt:   doc.CreatedAt.UTC(),
	}
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error)
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

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() mongodriver.IndexView {
	return c.coll.Indexes()
}
