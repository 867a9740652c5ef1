package mainboilerplate

import (
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"ejdb2.dev/ejdb2go/metrics"
)

// DiagnosticsConfig configures pull-based application metrics, debugging and diagnostics.
type DiagnosticsConfig struct {
	Addr string `long:"addr" env:"ADDR" description:"Address to serve /debug/metrics and /debug/pprof on. Disabled if empty"`
}

// InitDiagnostics registers the ejdb2 collectors and, if an address is
// configured, serves metrics, a readiness check and pprof on it.
// The returned mux is nil when serving is disabled.
func InitDiagnostics(cfg DiagnosticsConfig, extra ...prometheus.Collector) *http.ServeMux {
	for _, c := range append(metrics.Collectors(), extra...) {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				Must(err, "failed to register collector")
			}
		}
	}
	if cfg.Addr == "" {
		return nil
	}

	var mux = http.NewServeMux()
	mux.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/debug/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	go func() {
		if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
			log.WithFields(log.Fields{"err": err, "addr": cfg.Addr}).Error("diagnostics server stopped")
		}
	}()
	log.WithField("addr", cfg.Addr).Info("serving diagnostics")
	return mux
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}
