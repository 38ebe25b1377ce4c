package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"google.golang.org/grpc"

	brokergrpc "github.com/wuayee/app-platform-sub002/features/broker/grpc"
	"github.com/wuayee/app-platform-sub002/features/model/anthropic"
	"github.com/wuayee/app-platform-sub002/features/model/bedrock"
	"github.com/wuayee/app-platform-sub002/features/model/middleware"
	"github.com/wuayee/app-platform-sub002/features/model/openai"
	sharehttp "github.com/wuayee/app-platform-sub002/features/share/http"
	streampulse "github.com/wuayee/app-platform-sub002/features/stream/pulse"
	pulseclient "github.com/wuayee/app-platform-sub002/features/stream/pulse/clients/pulse"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/ancestor"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/broker"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/dispatch"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/memory"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/model"
	aippruntime "github.com/wuayee/app-platform-sub002/runtime/aipp/runtime"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/session"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/telemetry"
	"github.com/wuayee/app-platform-sub002/service"
)

type application struct {
	*backends
	handler http.Handler
	grpc    *grpc.Server
}

// build wires the backends, the runtime and the HTTP service.
func build(ctx context.Context, cfg config) (*application, error) {
	tel := telemetry.NewClueBundle()
	b, err := openBackends(ctx, cfg, tel)
	if err != nil {
		return nil, err
	}
	a := &application{backends: b}
	if err := a.wire(ctx, cfg, tel); err != nil {
		b.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *application) wire(ctx context.Context, cfg config, tel telemetry.Bundle) error {
	fitables := broker.NewRegistry()
	a.grpc = grpc.NewServer()
	brokergrpc.Register(a.grpc, fitables, tel)
	var invoker broker.Invoker = fitables
	if cfg.Broker.Remote != "" {
		remote, conn, err := brokergrpc.Dial(cfg.Broker.Remote)
		if err != nil {
			return fmt.Errorf("dial broker: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		invoker = remote
	}

	apps, err := app.NewService(app.Options{Store: a.apps, Flows: a.flows, Telemetry: tel})
	if err != nil {
		return err
	}
	registry := session.NewRegistry()
	resolver := ancestor.NewResolver(a.logs, tel.Logger)
	d, err := dispatch.New(dispatch.Options{
		Registry:  registry,
		Instances: a.instances,
		Forms:     a.forms,
		Resolver:  resolver,
		Telemetry: tel,
	})
	if err != nil {
		return err
	}
	opts := aippruntime.Options{
		Apps:        apps,
		Instances:   a.instances,
		Logs:        a.logs,
		Forms:       a.forms,
		Flows:       a.flows,
		Chats:       a.chats,
		Memory:      memory.NewResolver(a.chats, invoker),
		Registry:    registry,
		Dispatcher:  d,
		Resolver:    resolver,
		WaitTimeout: cfg.WaitTimeout,
		Telemetry:   tel,
	}
	if a.cache != nil {
		opts.Cache = a.cache
	}
	rt, err := aippruntime.New(opts)
	if err != nil {
		return err
	}

	svcOpts := service.Options{
		Apps:        apps,
		Runtime:     rt,
		Registry:    registry,
		Chats:       a.chats,
		Uploads:     a.uploads,
		WaitTimeout: cfg.WaitTimeout,
		Telemetry:   tel,
	}
	if a.cache != nil {
		svcOpts.RecentLogs = a.cache
	}
	if svcOpts.Model, err = a.modelClient(ctx, cfg.Model); err != nil {
		return err
	}
	if cfg.Share.URL != "" {
		shares, err := sharehttp.New(sharehttp.Options{BaseURL: cfg.Share.URL})
		if err != nil {
			return err
		}
		svcOpts.Shares = shares
	}
	if cfg.Streams.Relay {
		pc, err := pulseclient.New(pulseclient.Options{Redis: a.rdb, StreamMaxLen: cfg.Streams.MaxLen})
		if err != nil {
			return err
		}
		a.pingers = append(a.pingers, pc)
		if svcOpts.Relay, err = streampulse.NewStreams(streampulse.StreamsOptions{Client: pc, Telemetry: tel}); err != nil {
			return err
		}
	}
	svc, err := service.New(svcOpts)
	if err != nil {
		return err
	}
	a.handler = service.Handler(ctx, svc, a.pingers, cfg.Debug)
	return nil
}

// modelClient returns the configured provider wrapped in the adaptive rate
// limiter, or nil when no provider is configured.
func (a *application) modelClient(ctx context.Context, cfg modelConfig) (model.Client, error) {
	var (
		c   model.Client
		err error
	)
	switch cfg.Provider {
	case "":
		return nil, nil
	case "anthropic":
		c, err = anthropic.NewFromAPIKey(cfg.APIKey, cfg.Model)
	case "openai":
		c, err = openai.NewFromAPIKey(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "bedrock":
		rc := bedrockruntime.New(bedrockruntime.Options{
			Region:      cfg.Region,
			Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
		})
		c, err = bedrock.New(bedrock.Options{Runtime: rc, DefaultModel: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s model client: %w", cfg.Provider, err)
	}
	limiter := middleware.NewAdaptiveRateLimiter(ctx, a.limits, "aipp:model:"+cfg.Provider, cfg.TPM, cfg.MaxTPM)
	return limiter.Middleware()(c), nil
}

func envCredentials(context.Context) (aws.Credentials, error) {
	creds := aws.Credentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}
	if !creds.HasKeys() {
		return aws.Credentials{}, fmt.Errorf("aws credentials are not set in the environment")
	}
	return creds, nil
}
