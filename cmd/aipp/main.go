// Command aipp runs the application platform backend: the HTTP API over the
// instance runtime and, optionally, the gRPC broker serving in-process
// fitables.
//
// # Configuration
//
// Settings are read from the YAML file given with -config, then from the
// environment, then from flags:
//
//	AIPP_HTTP_ADDR       - HTTP listen address (default: ":8080")
//	AIPP_DEBUG           - Enable debug logs and pprof endpoints
//	AIPP_WAIT_TIMEOUT    - Bound of synchronous runs (default: "10m")
//	MONGO_URI            - MongoDB URI; empty uses in-memory stores
//	MONGO_DATABASE       - MongoDB database (default: "aipp")
//	REDIS_URL            - Redis address for log cache, forms and streams
//	REDIS_PASSWORD       - Redis password (optional)
//	AIPP_CLUSTER         - Name shared by the nodes of a deployment
//	TEMPORAL_HOST_PORT   - Temporal frontend; empty uses the in-memory engine
//	TEMPORAL_NAMESPACE   - Temporal namespace (default: "default")
//	TEMPORAL_TASK_QUEUE  - Queue served by the flow workers
//	AIPP_MODEL_PROVIDER  - anthropic, openai or bedrock
//	AIPP_MODEL_API_KEY   - Provider API key
//	AIPP_MODEL           - Default model identifier
//	AIPP_MODEL_TPM       - Initial tokens-per-minute budget
//	AIPP_BROKER_LISTEN   - gRPC address serving local fitables
//	AIPP_BROKER_REMOTE   - Broker invoked for custom memory
//	AIPP_SHARE_URL       - Conversation sharing service
//	AIPP_STREAM_RELAY    - Route session messages through Pulse streams
//
// Flow workers executing the graphs run in a separate process polling the
// configured Temporal task queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"goa.design/clue/log"
)

func main() {
	var (
		configF = flag.String("config", "", "Path of the YAML configuration file")
		addrF   = flag.String("http-addr", "", "HTTP listen address (overrides configuration)")
		dbgF    = flag.Bool("debug", false, "Log debug messages and mount pprof handlers")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := loadConfig(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if *addrF != "" {
		cfg.HTTPAddr = *addrF
	}
	if *dbgF {
		cfg.Debug = true
	}
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, cfg config) error {
	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close(context.WithoutCancel(ctx))

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	handleHTTPServer(ctx, cfg.HTTPAddr, app.handler, &wg, errc)
	if cfg.Broker.Listen != "" {
		handleGRPCServer(ctx, cfg.Broker.Listen, app.grpc, &wg, errc)
	}

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
	return nil
}
