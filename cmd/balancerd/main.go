// Command balancerd is a minimal illustrative driver wiring the pool,
// health monitor and load balancer behind a /convert HTTP endpoint, with
// Prometheus metrics served on /metrics. It is not
// part of the tested core — the command-line entry point and example
// drivers are explicitly out of scope (spec.md §1) — and exists only to
// show the pieces assembled.
package main

import (
	"encoding/base64"
	"flag"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/tabula17/satelles-balancer/backend"
	"github.com/tabula17/satelles-balancer/balancer"
	"github.com/tabula17/satelles-balancer/health"
	"github.com/tabula17/satelles-balancer/logging"
	"github.com/tabula17/satelles-balancer/metrics"
	"github.com/tabula17/satelles-balancer/rpcclient"
)

func main() {
	backends := flag.String("backends", "127.0.0.1:2003", "comma-separated host:port list of conversion backends")
	concurrency := flag.Int("concurrency", 8, "per-backend in-flight request cap")
	requestTimeout := flag.Duration("request-timeout", 30*time.Second, "end-to-end convertAsync deadline")
	listen := flag.String("listen", ":8080", "HTTP listen address")
	flag.Parse()

	sink := logging.NewLogrusSink(logging.Options{Level: log.InfoLevel})

	pool, err := parsePool(*backends)
	if err != nil {
		sink.Error("invalid backend pool", map[string]interface{}{"err": err.Error()})
		return
	}

	clients := make([]balancer.Converter, pool.Len())
	probers := make([]health.Prober, pool.Len())
	for i, b := range pool.All() {
		c := rpcclient.New(b.Host, b.Port, rpcclient.Config{}, sink)
		clients[i] = c
		probers[i] = c
	}

	monitor := health.New(probers, health.Options{
		FailureThreshold: 3,
		RetryTimeout:     30 * time.Second,
		CheckInterval:    10 * time.Second,
	}, sink)
	monitor.Start()
	defer monitor.Stop()

	bal := balancer.New(pool, clients, monitor, *concurrency, *requestTimeout, sink)
	bal.Start()
	defer bal.Stop()

	collectors := metrics.NewCollectors("satelles_balancer")
	collectors.MustRegister(prometheus.DefaultRegisterer)
	go exportMetricsLoop(bal, collectors)

	mux := http.NewServeMux()
	mux.HandleFunc("/convert", convertHandler(bal))
	mux.Handle("/metrics", promhttp.Handler())

	sink.Info("listening", map[string]interface{}{"addr": *listen})
	if err := http.ListenAndServe(*listen, mux); err != nil {
		sink.Error("server exited", map[string]interface{}{"err": err.Error()})
	}
}

// exportMetricsLoop mirrors the balancer's snapshot into the Prometheus
// collectors every few seconds; this loop, not Registry itself, owns the
// /metrics cadence, keeping Registry free of any Prometheus dependency.
func exportMetricsLoop(bal *balancer.Balancer, collectors *metrics.Collectors) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for i, snap := range bal.GetServerMetrics() {
			collectors.Observe(i, snap)
		}
	}
}

func parsePool(spec string) (*backend.Pool, error) {
	var entries []backend.Backend
	for _, hp := range strings.Split(spec, ",") {
		hp = strings.TrimSpace(hp)
		if hp == "" {
			continue
		}
		host, portStr, err := splitHostPort(hp)
		if err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, err
		}
		entries = append(entries, backend.Backend{Host: host, Port: uint16(port)})
	}
	return backend.NewPool(entries)
}

func splitHostPort(hp string) (string, string, error) {
	i := strings.LastIndex(hp, ":")
	if i < 0 {
		return "", "", &hostPortError{hp}
	}
	return hp[:i], hp[i+1:], nil
}

type hostPortError struct{ raw string }

func (e *hostPortError) Error() string { return "malformed host:port: " + e.raw }

// convertHandler accepts a multipart file upload and an "output_format"
// field, converts it via Stream mode, and writes the decoded bytes back.
// Writing converted output to disk and decoding base64 into files are both
// out of scope per spec.md §1; this handler decodes into the HTTP response
// body only, as the thinnest possible caller.
func convertHandler(bal *balancer.Balancer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		format := r.FormValue("output_format")
		result, err := bal.ConvertAsync(balancer.StreamBody{InputBytes: data}, format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(result)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Write(decoded)
	}
}
