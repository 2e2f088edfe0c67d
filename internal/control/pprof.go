package control

import (
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
)

// mountPprof registers the runtime profiles under /debug/pprof/. Mutex and
// block sampling are switched on lightly so those profiles are not empty.
func mountPprof(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	runtime.SetMutexProfileFraction(5)
	runtime.SetBlockProfileRate(int(1e6)) // one sample per ms blocked

	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
}
