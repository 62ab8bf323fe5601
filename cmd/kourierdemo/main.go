// Command kourierdemo runs a minimal HTTP/1.1 server exercising the
// reactor-driven core: a handful of routes, worker-sharded accept, and the
// configurable limits/timeouts the rest of the module implements.
package main

import (
	"flag"
	"net"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kourier-go/kourier/config"
	khttp "github.com/kourier-go/kourier/http"
	"github.com/kourier-go/kourier/internal/klog"
	"github.com/kourier-go/kourier/internal/metrics"
	"github.com/kourier-go/kourier/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on (optional)")
	flag.Parse()

	opts := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			klog.Fatal("kourierdemo: failed to load config", err)
		}
		opts = loaded
	}
	limits := opts.Limits()

	router := khttp.NewRouter()
	if err := router.AddRoute("GET", "/hello", helloHandler); err != nil {
		klog.Fatal("kourierdemo: failed to register /hello", err)
	}
	if err := router.AddRoute("GET", "/", fallbackHandler); err != nil {
		klog.Fatal("kourierdemo: failed to register fallback route", err)
	}

	errs := khttp.ErrorHandlerFunc(func(kind khttp.ErrorKind, ip string, port int) {
		klog.L.WithField("kind", kind.String()).WithField("peer", ip).Warn("kourierdemo: connection error")
	})

	reg := prometheus.NewRegistry()
	mx := metrics.New(reg, "kourier")
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg)
	}

	workerCount := opts.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}
	workers := make([]*server.Worker, workerCount)
	for i := range workers {
		w, err := server.NewWorker(router, &limits, errs, mx)
		if err != nil {
			klog.Fatal("kourierdemo: failed to start worker", err)
		}
		workers[i] = w
		go w.Run()
	}

	ln, err := net.Listen("tcp", opts.ListenAddress)
	if err != nil {
		klog.Fatal("kourierdemo: failed to listen", err)
	}
	klog.L.WithField("addr", opts.ListenAddress).Info("kourierdemo: listening")

	go acceptLoop(ln, workers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ln.Close()
	for _, w := range workers {
		w.Stop()
	}
}

// acceptLoop round-robins accepted connections across workers. Each
// *net.TCPConn is converted to a raw, duplicated file descriptor (the
// worker's reactor owns it non-blocking from there); the net.Conn itself is
// then closed without closing the duplicated descriptor.
func acceptLoop(ln net.Listener, workers []*server.Worker) {
	next := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		tc, ok := conn.(*net.TCPConn)
		if !ok {
			conn.Close()
			continue
		}
		fd, err := dupFD(tc)
		conn.Close()
		if err != nil {
			klog.L.WithError(err).Warn("kourierdemo: failed to duplicate accepted descriptor")
			continue
		}
		workers[next].Submit(fd)
		next = (next + 1) % len(workers)
	}
}

func dupFD(tc *net.TCPConn) (int, error) {
	f, err := tc.File()
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fd, err := syscall.Dup(int(f.Fd()))
	if err != nil {
		return 0, err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return 0, err
	}
	return fd, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := stdhttp.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := stdhttp.ListenAndServe(addr, mux); err != nil {
		klog.L.WithError(err).Error("kourierdemo: metrics server exited")
	}
}

func helloHandler(req *khttp.Request, b *khttp.Broker) {
	b.WriteResponse([]byte("Hello from Kourier\n"), khttp.StatusOK, nil)
}

func fallbackHandler(req *khttp.Request, b *khttp.Broker) {
	b.WriteResponse([]byte("not found\n"), khttp.StatusNotFound, nil)
}
