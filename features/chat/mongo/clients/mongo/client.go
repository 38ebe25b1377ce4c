// Package mongo implements the low-level MongoDB client used by the chat
// store.
package mongo

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
)

const (
	defaultCollection = "aipp_chat_turns"
	defaultTimeout    = 5 * time.Second
	clientName        = "chat-mongo"
)

type (
	// Client exposes Mongo-backed operations for conversation turns.
	Client interface {
		health.Pinger

		AppendTurn(ctx context.Context, r chat.Record) error
		SetAnswer(ctx context.Context, instanceID, answer string) error
		DeleteTurn(ctx context.Context, instanceID string) error
		RecentTurns(ctx context.Context, chatID string, n int) ([]chat.Record, error)
		DeleteChat(ctx context.Context, chatID string) error
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

	turnDocument struct {
		ID         string    `bson:"_id"`
		ChatID     string    `bson:"chat_id"`
		AppID      string    `bson:"app_id,omitempty"`
		InstanceID string    `bson:"instance_id"`
		Question   string    `bson:"question"`
		Answer     string    `bson:"answer,omitempty"`
		CreatedAt  time.Time `bson:"created_at"`
	}
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
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) AppendTurn(ctx context.Context, r chat.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.InsertOne(ctx, turnDocument{
		ID:         r.ID,
		ChatID:     r.ChatID,
		AppID:      r.AppID,
		InstanceID: r.InstanceID,
		Question:   r.Question,
		Answer:     r.Answer,
		CreatedAt:  r.CreatedAt.UTC(),
	})
	return err
}

func (c *client) SetAnswer(ctx context.Context, instanceID, answer string) error {
	if instanceID == "" {
		return errors.New("instance id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.coll.UpdateOne(ctx, bson.M{"instance_id": instanceID}, bson.M{"$set": bson.M{"answer": answer}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (c *client) DeleteTurn(ctx context.Context, instanceID string) error {
	if instanceID == "" {
		return errors.New("instance id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.DeleteMany(ctx, bson.M{"instance_id": instanceID})
	return err
}

// RecentTurns loads the newest n turns and returns them oldest first.
func (c *client) RecentTurns(ctx context.Context, chatID string, n int) ([]chat.Record, error) {
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}
	if n <= 0 {
		return nil, errors.New("n must be > 0")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.coll.Find(ctx, bson.M{"chat_id": chatID}, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(n)),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []chat.Record
	for cur.Next(ctx) {
		var doc turnDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, chat.Record{
			ID:         doc.ID,
			ChatID:     doc.ChatID,
			AppID:      doc.AppID,
			InstanceID: doc.InstanceID,
			Question:   doc.Question,
			Answer:     doc.Answer,
			CreatedAt:  doc.CreatedAt.UTC(),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (c *client) DeleteChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return errors.New("chat id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.DeleteMany(ctx, bson.M{"chat_id": chatID})
	return err
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

func ensureIndexes(ctx context.Context, coll collection) error {
	chatIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "chat_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, chatIndex); err != nil {
		return err
	}
	instanceIndex := mongodriver.IndexModel{
		Keys: bson.D{{Key: "instance_id", Value: 1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, instanceIndex)
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
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	DeleteMany(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteMany(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
