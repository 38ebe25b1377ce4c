package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.temporal.io/sdk/client"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	appmongo "github.com/wuayee/app-platform-sub002/features/app/mongo"
	appclient "github.com/wuayee/app-platform-sub002/features/app/mongo/clients/mongo"
	chatmongo "github.com/wuayee/app-platform-sub002/features/chat/mongo"
	chatclient "github.com/wuayee/app-platform-sub002/features/chat/mongo/clients/mongo"
	flowtemporal "github.com/wuayee/app-platform-sub002/features/flow/temporal"
	formrmap "github.com/wuayee/app-platform-sub002/features/form/rmap"
	instancemongo "github.com/wuayee/app-platform-sub002/features/instance/mongo"
	instanceclient "github.com/wuayee/app-platform-sub002/features/instance/mongo/clients/mongo"
	logcache "github.com/wuayee/app-platform-sub002/features/logcache/redis"
	runlogmongo "github.com/wuayee/app-platform-sub002/features/runlog/mongo"
	runlogclient "github.com/wuayee/app-platform-sub002/features/runlog/mongo/clients/mongo"
	uploadmongo "github.com/wuayee/app-platform-sub002/features/upload/mongo"
	uploadclient "github.com/wuayee/app-platform-sub002/features/upload/mongo/clients/mongo"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	appinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/app/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
	chatinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/chat/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/flow"
	flowinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/flow/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/form"
	forminmem "github.com/wuayee/app-platform-sub002/runtime/aipp/form/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
	instinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/instance/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
	loginmem "github.com/wuayee/app-platform-sub002/runtime/aipp/runlog/inmem"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/upload"
	uploadinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/upload/inmem"
)

// backends holds the stores and engines of the process together with the
// health pingers and shutdown hooks they register.
type backends struct {
	apps      app.Store
	instances instance.Store
	logs      runlog.Store
	chats     chat.Store
	uploads   upload.Store
	forms     form.Repository
	flows     flow.Engine
	cache     *logcache.Cache

	rdb     *redis.Client
	limits  *rmap.Map
	pingers []health.Pinger
	closers []func(context.Context) error
}

func (b *backends) close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			log.Errorf(ctx, err, "shutdown")
		}
	}
}

// openBackends connects the configured databases. Missing sections fall
// back to in-memory implementations so a single node can run without any
// infrastructure.
func openBackends(ctx context.Context, cfg config, tel telemetry.Bundle) (*backends, error) {
	b := &backends{}
	if err := b.openMongo(ctx, cfg.Mongo); err != nil {
		b.close(ctx)
		return nil, err
	}
	if err := b.openRedis(ctx, cfg.Redis); err != nil {
		b.close(ctx)
		return nil, err
	}
	if err := b.openFlows(ctx, cfg, tel); err != nil {
		b.close(ctx)
		return nil, err
	}
	return b, nil
}

func (b *backends) openMongo(ctx context.Context, cfg mongoConfig) error {
	if cfg.URI == "" {
		log.Print(ctx, log.KV{K: "msg", V: "mongo not configured, using in-memory stores"})
		b.apps = appinmem.New()
		b.instances = instinmem.New()
		b.logs = loginmem.New()
		b.chats = chatinmem.New()
		b.uploads = uploadinmem.New()
		return nil
	}
	mc, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	b.closers = append(b.closers, mc.Disconnect)

	ac, err := appclient.New(appclient.Options{Client: mc, Database: cfg.Database})
	if err != nil {
		return fmt.Errorf("app client: %w", err)
	}
	if b.apps, err = appmongo.NewStore(ac); err != nil {
		return err
	}
	ic, err := instanceclient.New(instanceclient.Options{Client: mc, Database: cfg.Database})
	if err != nil {
		return fmt.Errorf("instance client: %w", err)
	}
	if b.instances, err = instancemongo.NewStore(ic); err != nil {
		return err
	}
	lc, err := runlogclient.New(runlogclient.Options{Client: mc, Database: cfg.Database})
	if err != nil {
		return fmt.Errorf("log client: %w", err)
	}
	if b.logs, err = runlogmongo.NewStore(lc); err != nil {
		return err
	}
	cc, err := chatclient.New(chatclient.Options{Client: mc, Database: cfg.Database})
	if err != nil {
		return fmt.Errorf("chat client: %w", err)
	}
	if b.chats, err = chatmongo.NewStore(chatmongo.Options{Client: cc}); err != nil {
		return err
	}
	uc, err := uploadclient.New(uploadclient.Options{Client: mc, Database: cfg.Database})
	if err != nil {
		return fmt.Errorf("upload client: %w", err)
	}
	if b.uploads, err = uploadmongo.NewStore(uc); err != nil {
		return err
	}
	b.pingers = append(b.pingers, ac, ic, lc, cc, uc)
	return nil
}

func (b *backends) openRedis(ctx context.Context, cfg redisConfig) error {
	if cfg.Addr == "" {
		b.forms = forminmem.New()
		return nil
	}
	b.rdb = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	b.closers = append(b.closers, func(context.Context) error { return b.rdb.Close() })
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	cache, err := logcache.New(logcache.Options{Redis: b.rdb})
	if err != nil {
		return err
	}
	b.cache = cache
	b.pingers = append(b.pingers, cache)

	forms, err := b.joinMap(ctx, cfg.Cluster+":forms")
	if err != nil {
		return err
	}
	b.forms = formrmap.New(forms)
	b.limits, err = b.joinMap(ctx, cfg.Cluster+":limits")
	return err
}

func (b *backends) joinMap(ctx context.Context, name string) (*rmap.Map, error) {
	m, err := rmap.Join(ctx, name, b.rdb)
	if err != nil {
		return nil, fmt.Errorf("join replicated map %s: %w", name, err)
	}
	b.closers = append(b.closers, func(context.Context) error { m.Close(); return nil })
	return m, nil
}

func (b *backends) openFlows(ctx context.Context, cfg config, tel telemetry.Bundle) error {
	if cfg.Temporal.HostPort == "" {
		log.Print(ctx, log.KV{K: "msg", V: "temporal not configured, using the in-memory flow engine"})
		b.flows = flowinmem.New()
		return nil
	}
	defs, err := b.joinMap(ctx, cfg.Redis.Cluster+":flowdefs")
	if err != nil {
		return err
	}
	eng, err := flowtemporal.New(flowtemporal.Options{
		ClientOptions: &client.Options{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace},
		TaskQueue:     cfg.Temporal.TaskQueue,
		Definitions:   defs,
		Telemetry:     tel,
	})
	if err != nil {
		return err
	}
	b.flows = eng
	b.closers = append(b.closers, func(context.Context) error { eng.Close(); return nil })
	return nil
}
