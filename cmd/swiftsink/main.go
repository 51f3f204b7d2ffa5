package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jessevdk/go-flags"

	"github.com/pli01/swiftsink/conf"
	"github.com/pli01/swiftsink/internal/configfile"
	"github.com/pli01/swiftsink/internal/log"
	"github.com/pli01/swiftsink/output"
	"github.com/pli01/swiftsink/output/chunk"
	swifterrors "github.com/pli01/swiftsink/output/errors"
	"github.com/pli01/swiftsink/output/keyformat"
	"github.com/pli01/swiftsink/output/metrics"
	"github.com/pli01/swiftsink/swift"
)

type options struct {
	Config      string `short:"c" long:"config" description:"configuration file (TOML, or YAML by extension)"`
	Profile     string `short:"p" long:"profile" description:"configuration profile"`
	MetricsAddr string `long:"metrics-addr" description:"serve Prometheus metrics on this address while delivering"`
	Concurrency int    `long:"concurrency" description:"override the configured number of concurrent uploads"`
	Verbose     bool   `short:"v" long:"verbose" description:"debug logging"`
	Version     bool   `long:"version" description:"print version and exit"`

	Args struct {
		Files []string `positional-arg-name:"FILE" description:"files to upload, one object per file"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] FILE..."
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if opts.Version {
		fmt.Println(conf.UserAgent())
		return
	}
	if len(opts.Args.Files) == 0 {
		parser.WriteHelp(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &opts); err != nil {
		log.Error(err.Error())
		if swifterrors.IsConfiguration(err) {
			os.Exit(78)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	config, err := configfile.Load(opts.Config, opts.Profile)
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		return &swifterrors.ConfigurationError{Field: "log_level", Reason: "unknown level", Err: err}
	}
	if opts.Verbose {
		level = log.LevelDebug
	}
	log.SetLevel(level)
	if opts.Concurrency > 0 {
		config.Concurrency = opts.Concurrency
	}
	if err = config.Validate(); err != nil {
		return err
	}

	client, err := swift.NewClient(&swift.Options{
		StorageURL:         config.StorageURL,
		Account:            config.SwiftAccount,
		TokenProvider:      swift.StaticTokenProvider(config.AuthToken),
		InsecureSkipVerify: !config.SSLVerify,
		ProxyURL:           config.ProxyURI,
		RetryMax:           config.RetryMax,
		Timeout:            time.Duration(config.RequestTimeout),
		DialTimeout:        time.Duration(config.DialTimeout),
	})
	if err != nil {
		return &swifterrors.ConfigurationError{Field: "storage_url", Reason: "cannot create swift client", Err: err}
	}

	m := metrics.New().WithRuntimeCollectors()
	if opts.MetricsAddr != "" {
		shutdown, err := serveMetrics(opts.MetricsAddr, m)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	out, err := output.New(config, output.Options{Gateway: client, Metrics: m})
	if err != nil {
		return err
	}
	if err = out.Start(ctx); err != nil {
		return err
	}

	chunks, err := fileChunks(opts.Args.Files, out.TimeSlicer())
	if err != nil {
		return err
	}
	log.Info(fmt.Sprintf("delivering %d file(s) to %s/%s", len(chunks), client.StorageURL(), config.SwiftContainer))
	return out.DeliverAll(ctx, chunks, config.Concurrency)
}

// fileChunks 每个文件一个 chunk：时间分桶为修改时间所在的分桶起点（按 timekey_zone 对齐），tag 为文件名（含扩展名）
func fileChunks(paths []string, slicer *keyformat.TimeSlicer) ([]chunk.Chunk, error) {
	chunks := make([]chunk.Chunk, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		c := &chunk.FileChunk{
			ID:   chunk.NewUniqueID(),
			Path: path,
			Vars: map[string]string{"tag": filepath.Base(path)},
		}
		c.Time, c.HasTime = slicer.Bucket(info.ModTime())
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func newRouter(m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	return r
}

func serveMetrics(addr string, m *metrics.Metrics) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &swifterrors.ConfigurationError{Field: "metrics-addr", Reason: "cannot listen on " + addr, Err: err}
	}
	server := &http.Server{Handler: newRouter(m), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server: " + err.Error())
		}
	}()
	log.Info("serving metrics on http://" + listener.Addr().String() + "/metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
