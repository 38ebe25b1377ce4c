package mongo

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/upload"
)

func TestFileLifecycle(t *testing.T) {
	fc := &fakeCollection{docs: map[string]fileDocument{}}
	now := time.Unix(50, 0).UTC()
	c := &client{coll: fc, timeout: time.Second, now: func() time.Time { return now }}
	ctx := context.Background()

	f, err := c.InsertFile(ctx, upload.File{AppID: "app-1", Name: "a.pdf", URL: "s3://b/a.pdf", Size: 3})
	require.NoError(t, err)
	require.NotEmpty(t, f.ID)
	require.Equal(t, now, f.CreatedAt)

	later := upload.File{AppID: "app-1", Name: "b.txt", URL: "s3://b/b.txt", Size: 1, CreatedAt: now.Add(time.Second)}
	_, err = c.InsertFile(ctx, later)
	require.NoError(t, err)
	_, err = c.InsertFile(ctx, upload.File{AppID: "app-2", Name: "c.txt", URL: "u", Size: 1})
	require.NoError(t, err)

	files, err := c.ListFiles(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "a.pdf", files[0].Name)

	got, err := c.LoadFile(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, f, got)

	require.NoError(t, c.DeleteFile(ctx, f.ID))
	require.ErrorIs(t, c.DeleteFile(ctx, f.ID), upload.ErrNotFound)
	_, err = c.LoadFile(ctx, f.ID)
	require.ErrorIs(t, err, upload.ErrNotFound)
}

func TestInsertFileValidates(t *testing.T) {
	c := &client{coll: &fakeCollection{docs: map[string]fileDocument{}}, now: time.Now}
	_, err := c.InsertFile(context.Background(), upload.File{AppID: "a", Name: "../x", URL: "u", Size: 1})
	require.Error(t, err)
}

type fakeCollection struct {
	docs map[string]fileDocument
}

func (c *fakeCollection) InsertOne(_ context.Context, document any, _ ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	doc := document.(fileDocument)
	c.docs[doc.ID] = doc
	return &mongodriver.InsertOneResult{InsertedID: doc.ID}, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	doc, ok := c.docs[filter.(bson.M)["_id"].(string)]
	if !ok {
		return fakeResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeResult{doc: doc}
}

func (c *fakeCollection) Find(_ context.Context, filter any, _ ...*options.FindOptions) (cursor, error) {
	appID := filter.(bson.M)["app_id"].(string)
	var out []fileDocument
	for _, d := range c.docs {
		if d.AppID == appID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return &fakeCursor{docs: out}, nil
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter any, _ ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	id := filter.(bson.M)["_id"].(string)
	if _, ok := c.docs[id]; !ok {
		return &mongodriver.DeleteResult{}, nil
	}
	delete(c.docs, id)
	return &mongodriver.DeleteResult{DeletedCount: 1}, nil
}

type fakeResult struct {
	doc fileDocument
	err error
}

func (r fakeResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	*val.(*fileDocument) = r.doc
	return nil
}

type fakeCursor struct {
	docs []fileDocument
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	*val.(*fileDocument) = c.docs[c.pos-1]
	return nil
}

func (c *fakeCursor) Err() error                  { return nil }
func (c *fakeCursor) Close(context.Context) error { return nil }
