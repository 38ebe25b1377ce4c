package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/log"
	"google.golang.org/grpc"
)

func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}

func handleGRPCServer(ctx context.Context, addr string, srv *grpc.Server, wg *sync.WaitGroup, errc chan error) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				errc <- err
				return
			}
			log.Printf(ctx, "gRPC broker listening on %q", addr)
			errc <- srv.Serve(lis)
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down gRPC broker at %q", addr)
		srv.GracefulStop()
	}()
}
