// Package mongo hosts the MongoDB client used by the app store.
package mongo

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/memory"
)

const (
	defaultAppsCollection = "aipp_apps"
	defaultOpTimeout      = 5 * time.Second
	appClientName         = "app-mongo"
	defaultListLimit      = 50
)

// Client exposes Mongo-backed operations for app definitions.
type Client interface {
	health.Pinger

	InsertApp(ctx context.Context, a app.App) error
	LoadApp(ctx context.Context, id string) (app.App, error)
	ReplaceApp(ctx context.Context, a app.App) error
	DeleteApp(ctx context.Context, id string) error
	FindApps(ctx context.Context, f app.Filter) ([]app.App, error)
}

// Options configures the Mongo app client.
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
		collection = defaultAppsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
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
	return appClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) InsertApp(ctx context.Context, a app.App) error {
	if a.ID == "" {
		return errors.New("app id is required")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.coll.InsertOne(ctx, fromApp(a)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return app.ErrDuplicateName
		}
		return err
	}
	return nil
}

func (c *client) LoadApp(ctx context.Context, id string) (app.App, error) {
	if id == "" {
		return app.App{}, errors.New("app id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc appDocument
	if err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return app.App{}, app.ErrNotFound
		}
		return app.App{}, err
	}
	return doc.toApp(), nil
}

func (c *client) ReplaceApp(ctx context.Context, a app.App) error {
	if a.ID == "" {
		return errors.New("app id is required")
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.coll.ReplaceOne(ctx, bson.M{"_id": a.ID}, fromApp(a))
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return app.ErrDuplicateName
		}
		return err
	}
	if res.MatchedCount == 0 {
		return app.ErrNotFound
	}
	return nil
}

func (c *client) DeleteApp(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("app id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return app.ErrNotFound
	}
	return nil
}

// FindApps returns the apps matching f sorted by update time, newest first,
// with ties broken by ID.
func (c *client) FindApps(ctx context.Context, f app.Filter) ([]app.App, error) {
	limit := int64(f.Limit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(limit)
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.coll.Find(ctx, buildFilter(f), opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []app.App
	for cur.Next(ctx) {
		var doc appDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toApp())
	}
	return out, cur.Err()
}

func buildFilter(f app.Filter) bson.M {
	filter := bson.M{}
	if f.NameContains != "" {
		filter["name"] = bson.M{"$regex": regexp.QuoteMeta(f.NameContains)}
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if !f.IncludePreview {
		filter["preview_of"] = bson.M{"$exists": false}
	}
	return filter
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

type appDocument struct {
	ID               string     `bson:"_id"`
	Name             string     `bson:"name"`
	Description      string     `bson:"description,omitempty"`
	Version          string     `bson:"version"`
	Status           app.Status `bson:"status"`
	FlowDefinitionID string     `bson:"flow_definition_id"`
	Memory           memoryDoc  `bson:"memory"`
	PreviewOf        string     `bson:"preview_of,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

type memoryDoc struct {
	Type          memory.Type    `bson:"type,omitempty"`
	Turns         int            `bson:"turns,omitempty"`
	GenericableID string         `bson:"genericable_id,omitempty"`
	FitableID     string         `bson:"fitable_id,omitempty"`
	Params        map[string]any `bson:"params,omitempty"`
}

func fromApp(a app.App) appDocument {
	return appDocument{
		ID:               a.ID,
		Name:             a.Name,
		Description:      a.Description,
		Version:          a.Version,
		Status:           a.Status,
		FlowDefinitionID: a.FlowDefinitionID,
		Memory: memoryDoc{
			Type:          a.Memory.Type,
			Turns:         a.Memory.Turns,
			GenericableID: a.Memory.GenericableID,
			FitableID:     a.Memory.FitableID,
			Params:        cloneParams(a.Memory.Params),
		},
		PreviewOf: a.PreviewOf,
		CreatedAt: a.CreatedAt.UTC(),
		UpdatedAt: a.UpdatedAt.UTC(),
	}
}

func (doc appDocument) toApp() app.App {
	return app.App{
		ID:               doc.ID,
		Name:             doc.Name,
		Description:      doc.Description,
		Version:          doc.Version,
		Status:           doc.Status,
		FlowDefinitionID: doc.FlowDefinitionID,
		Memory: memory.Config{
			Type:          doc.Memory.Type,
			Turns:         doc.Memory.Turns,
			GenericableID: doc.Memory.GenericableID,
			FitableID:     doc.Memory.FitableID,
			Params:        cloneParams(doc.Memory.Params),
		},
		PreviewOf: doc.PreviewOf,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}

func cloneParams(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func ensureIndexes(ctx context.Context, coll collection) error {
	nameIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "name", Value: 1},
			{Key: "version", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, nameIndex); err != nil {
		return err
	}
	listIndex := mongodriver.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, listIndex)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error)
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

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cursor: cur}, nil
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoCursor struct {
	cursor *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool   { return c.cursor.Next(ctx) }
func (c mongoCursor) Decode(val any) error            { return c.cursor.Decode(val) }
func (c mongoCursor) Err() error                      { return c.cursor.Err() }
func (c mongoCursor) Close(ctx context.Context) error { return c.cursor.Close(ctx) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
