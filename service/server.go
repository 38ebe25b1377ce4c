package service

import (
	"context"
	"net/http"

	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"
)

// Handler builds the HTTP handler of the service: the API routes, the
// health endpoints at /healthz and /livez and, when dbg is set, the pprof
// and debug log toggling endpoints. Requests are logged through Clue with
// the logger carried by ctx.
func Handler(ctx context.Context, svc *Service, deps []health.Pinger, dbg bool) http.Handler {
	mux := goahttp.NewMuxer()
	if dbg {
		debug.MountPprofHandlers(debug.Adapt(mux))
		debug.MountDebugLogEnabler(debug.Adapt(mux))
	}
	check := health.Handler(health.NewChecker(deps...))
	mux.Handle(http.MethodGet, "/healthz", check)
	mux.Handle(http.MethodGet, "/livez", check)
	svc.Mount(mux)

	var handler http.Handler = mux
	if dbg {
		handler = debug.HTTP()(handler)
	}
	return log.HTTP(ctx)(handler)
}
