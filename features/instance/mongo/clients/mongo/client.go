// Package mongo hosts the MongoDB client used by the instance store.
package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
)

const (
	defaultInstancesCollection = "aipp_instances"
	defaultOpTimeout           = 5 * time.Second
	instanceClientName         = "instance-mongo"
)

// Client exposes Mongo-backed operations for app instances.
type Client interface {
	health.Pinger

	CreateInstance(ctx context.Context, inst instance.Instance) error
	LoadInstance(ctx context.Context, id string) (instance.Instance, error)
	UpdateInstance(ctx context.Context, id string, p instance.Patch) (instance.Instance, error)
	ListInstancesByApp(ctx context.Context, appID string, limit int) ([]instance.Instance, error)
}

// Options configures the Mongo instance client.
type Options struct {
	Client              *mongodriver.Client
	Database            string
	InstancesCollection string
	Timeout             time.Duration
}

type client struct {
	mongo     *mongodriver.Client
	instances collection
	timeout   time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	instancesCollection := opts.InstancesCollection
	if instancesCollection == "" {
		instancesCollection = defaultInstancesCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(instancesCollection)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, coll, timeout)
}

func (c *client) Name() string {
	return instanceClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) CreateInstance(ctx context.Context, inst instance.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if inst.StartTime.IsZero() {
		inst.StartTime = now
	}
	if inst.UpdatedAt.IsZero() {
		inst.UpdatedAt = now
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.instances.InsertOne(ctx, fromInstance(inst)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return instance.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (c *client) LoadInstance(ctx context.Context, id string) (instance.Instance, error) {
	if id == "" {
		return instance.Instance{}, errors.New("instance id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc instanceDocument
	if err := c.instances.FindOne(ctx, bson.M{"instance_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return instance.Instance{}, instance.ErrNotFound
		}
		return instance.Instance{}, err
	}
	return doc.toInstance(), nil
}

func (c *client) UpdateInstance(ctx context.Context, id string, p instance.Patch) (instance.Instance, error) {
	if id == "" {
		return instance.Instance{}, errors.New("instance id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	update := bson.M{"$set": patchFields(p, time.Now().UTC())}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	filter := bson.M{"instance_id": id}
	if len(p.From) > 0 {
		filter["status"] = bson.M{"$in": p.From}
	}
	var doc instanceDocument
	if err := c.instances.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if !errors.Is(err, mongodriver.ErrNoDocuments) {
			return instance.Instance{}, err
		}
		if len(p.From) == 0 {
			return instance.Instance{}, instance.ErrNotFound
		}
		// Tell a missing instance from one in another status.
		if _, err := c.LoadInstance(ctx, id); err != nil {
			return instance.Instance{}, err
		}
		return instance.Instance{}, instance.ErrStatusConflict
	}
	return doc.toInstance(), nil
}

func (c *client) ListInstancesByApp(ctx context.Context, appID string, limit int) ([]instance.Instance, error) {
	if appID == "" {
		return nil, errors.New("app id is required")
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.instances.Find(ctx, bson.M{"app_id": appID}, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []instance.Instance
	for cur.Next(ctx) {
		var doc instanceDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toInstance())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
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

type instanceDocument struct {
	InstanceID       string          `bson:"instance_id"`
	AppID            string          `bson:"app_id"`
	AppVersion       string          `bson:"app_version,omitempty"`
	ParentID         string          `bson:"parent_id,omitempty"`
	ChatID           string          `bson:"chat_id,omitempty"`
	FlowDefinitionID string          `bson:"flow_definition_id,omitempty"`
	TraceID          string          `bson:"trace_id,omitempty"`
	Status           instance.Status `bson:"status"`
	FormID           string          `bson:"form_id,omitempty"`
	FormVersion      string          `bson:"form_version,omitempty"`
	Question         string          `bson:"question,omitempty"`
	Business         map[string]any  `bson:"business,omitempty"`
	StartTime        time.Time       `bson:"start_time"`
	EndTime          *time.Time      `bson:"end_time,omitempty"`
	UpdatedAt        time.Time       `bson:"updated_at"`
}

func fromInstance(inst instance.Instance) instanceDocument {
	var end *time.Time
	if inst.EndTime != nil {
		at := inst.EndTime.UTC()
		end = &at
	}
	return instanceDocument{
		InstanceID:       inst.ID,
		AppID:            inst.AppID,
		AppVersion:       inst.AppVersion,
		ParentID:         inst.ParentID,
		ChatID:           inst.ChatID,
		FlowDefinitionID: inst.FlowDefinitionID,
		TraceID:          inst.TraceID,
		Status:           inst.Status,
		FormID:           inst.FormID,
		FormVersion:      inst.FormVersion,
		Question:         inst.Question,
		Business:         cloneBusiness(inst.Business),
		StartTime:        inst.StartTime.UTC(),
		EndTime:          end,
		UpdatedAt:        inst.UpdatedAt.UTC(),
	}
}

func (doc instanceDocument) toInstance() instance.Instance {
	var end *time.Time
	if doc.EndTime != nil {
		at := doc.EndTime.UTC()
		end = &at
	}
	return instance.Instance{
		ID:               doc.InstanceID,
		AppID:            doc.AppID,
		AppVersion:       doc.AppVersion,
		ParentID:         doc.ParentID,
		ChatID:           doc.ChatID,
		FlowDefinitionID: doc.FlowDefinitionID,
		TraceID:          doc.TraceID,
		Status:           doc.Status,
		FormID:           doc.FormID,
		FormVersion:      doc.FormVersion,
		Question:         doc.Question,
		Business:         cloneBusiness(doc.Business),
		StartTime:        doc.StartTime.UTC(),
		EndTime:          end,
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}
}

// patchFields renders p as a $set document. Business entries are merged
// field by field so concurrent patches of distinct keys do not clobber each
// other.
func patchFields(p instance.Patch, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if p.Status != nil {
		set["status"] = *p.Status
	}
	if p.TraceID != nil {
		set["trace_id"] = *p.TraceID
	}
	if p.FormID != nil {
		set["form_id"] = *p.FormID
	}
	if p.FormVersion != nil {
		set["form_version"] = *p.FormVersion
	}
	if p.EndTime != nil {
		set["end_time"] = p.EndTime.UTC()
	}
	for k, v := range p.Business {
		set["business."+escapeKey(k)] = v
	}
	return set
}

// escapeKey replaces characters Mongo interprets in field paths.
func escapeKey(k string) string {
	return strings.NewReplacer(".", "_", "$", "_").Replace(k)
}

func cloneBusiness(src map[string]any) map[string]any {
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
	idIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "instance_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, idIndex); err != nil {
		return err
	}
	appIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "app_id", Value: 1},
			{Key: "start_time", Value: -1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, appIndex); err != nil {
		return err
	}
	return nil
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:     mongoClient,
		instances: coll,
		timeout:   timeout,
	}, nil
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	FindOneAndUpdate(ctx context.Context, filter any, update any,
		opts ...*options.FindOneAndUpdateOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
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

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) FindOneAndUpdate(ctx context.Context, filter any, update any,
	opts ...*options.FindOneAndUpdateOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOneAndUpdate(ctx, filter, update, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
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
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
