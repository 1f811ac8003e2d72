package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pitonyak/ADPStampInventory/internal/audit"
	"github.com/pitonyak/ADPStampInventory/internal/battery"
	"github.com/pitonyak/ADPStampInventory/internal/capture"
	"github.com/pitonyak/ADPStampInventory/internal/config"
	"github.com/pitonyak/ADPStampInventory/internal/metrics"
	"github.com/pitonyak/ADPStampInventory/internal/mqtt"
	"github.com/pitonyak/ADPStampInventory/internal/report"
	"github.com/pitonyak/ADPStampInventory/internal/summary"
)

type metricsServer interface {
	Start() error
	StartTLS(certFile, keyFile, caFile string, clientAuth tls.ClientAuthType) error
	Shutdown(ctx context.Context) error
}

type summaryPublisher interface {
	Connect() error
	Publish(ctx context.Context, payload []byte) error
	Close()
}

var (
	loadConfigFunc       = config.Load
	newMetricsServerFunc = func(addr string, status func() any) metricsServer {
		return metrics.NewServer(addr, nil, metrics.WithStatus(status))
	}
	newPublisherFunc = func(cfg mqtt.Config) (summaryPublisher, error) {
		return mqtt.NewPublisher(cfg)
	}
	openSinkFunc = openSink
	randomSource io.Reader = rand.Reader
)

// options holds the command line after parsing.
type options struct {
	file        string
	output      string
	source      string
	destination string
	format      string
	selfTest    int
	verbose     bool
}

// runStatus exposes the progress of the active audit on the metrics server.
type runStatus struct {
	file    string
	auditor atomic.Pointer[audit.Auditor]
}

type statusDocument struct {
	File  string `json:"file"`
	State string `json:"state"`
	audit.Progress
}

func (s *runStatus) snapshot() any {
	doc := statusDocument{File: s.file, State: "starting"}
	if a := s.auditor.Load(); a != nil {
		doc.State = "running"
		doc.Progress = a.Progress()
	}
	return doc
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if err := godotenv.Overload(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}

	opts, code, ok := parseFlags(args, stdout, stderr)
	if !ok {
		return code
	}

	cfg, err := loadConfigFunc()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if err := applyOptions(&cfg, opts); err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	log.Printf("config: %s", cfg.String())

	if opts.selfTest > 0 {
		if err := selfTest(stdout, cfg.BatteryParams(), opts.selfTest); err != nil {
			_, _ = fmt.Fprintf(stderr, "self-test: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	status := &runStatus{file: opts.file}
	if cfg.Metrics.Enabled {
		server := newMetricsServerFunc(cfg.Metrics.Bind, status.snapshot)
		go func() {
			if err := startMetricsServer(server, cfg.Metrics); err != nil {
				log.Printf("metrics: failed to start server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics: shutdown error: %v", err)
			}
		}()
	}

	if err := runAudit(ctx, cfg, opts, stdout, status); err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, stdout, stderr io.Writer) (options, int, bool) {
	var opts options
	fs := flag.NewFlagSet("esp-randomness", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stdout, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	for _, name := range []string{"f", "file"} {
		fs.StringVar(&opts.file, name, "", "pcap or pcapng capture to read")
	}
	for _, name := range []string{"o", "output"} {
		fs.StringVar(&opts.output, name, "", "report path (default <file>.csv or <file>.xlsx)")
	}
	for _, name := range []string{"s", "source"} {
		fs.StringVar(&opts.source, name, "", "comma separated source address prefixes")
	}
	for _, name := range []string{"d", "destination"} {
		fs.StringVar(&opts.destination, name, "", "comma separated destination address prefixes")
	}
	fs.StringVar(&opts.format, "format", "", "report format: csv or xlsx")
	fs.IntVar(&opts.selfTest, "self-test", 0, "run the battery on this many random bytes and exit")
	fs.BoolVar(&opts.verbose, "v", false, "print every packet's results")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.Usage()
			return opts, 0, false
		}
		_, _ = fmt.Fprintf(stderr, "parse flags: %v\n", err)
		return opts, 2, false
	}
	if fs.NArg() > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return opts, 2, false
	}
	if opts.selfTest < 0 {
		_, _ = fmt.Fprintln(stderr, "-self-test must not be negative")
		return opts, 2, false
	}
	if opts.file == "" && opts.selfTest == 0 {
		_, _ = fmt.Fprintln(stderr, "a capture file is required (-f)")
		fs.Usage()
		return opts, 2, false
	}
	return opts, 0, true
}

// applyOptions lets command line flags override the loaded configuration.
func applyOptions(cfg *config.Config, opts options) error {
	if opts.source != "" {
		cfg.Capture.SourceFilter = config.SplitList(opts.source)
	}
	if opts.destination != "" {
		cfg.Capture.DestFilter = config.SplitList(opts.destination)
	}
	if opts.format != "" {
		format := strings.ToLower(opts.format)
		if format != config.ReportFormatCSV && format != config.ReportFormatXLSX {
			return fmt.Errorf("-format must be csv or xlsx, got %q", opts.format)
		}
		cfg.Report.Format = format
	}
	if opts.output != "" {
		cfg.Report.Path = opts.output
	}
	if cfg.Report.Path == "" && opts.file != "" {
		cfg.Report.Path = opts.file + "." + cfg.Report.Format
	}
	return nil
}

func openSink(format, path string, previewBytes int) (report.Sink, error) {
	if format == config.ReportFormatXLSX {
		return report.CreateXLSX(path, previewBytes)
	}
	return report.CreateCSV(path, previewBytes)
}

func runAudit(ctx context.Context, cfg config.Config, opts options, stdout io.Writer, status *runStatus) (err error) {
	reader, err := capture.Open(opts.file, capture.Filter{
		Sources:      cfg.Capture.SourceFilter,
		Destinations: cfg.Capture.DestFilter,
	})
	if err != nil {
		return err
	}
	defer reader.Close()

	sink, err := openSinkFunc(cfg.Report.Format, cfg.Report.Path, cfg.Report.DataPreviewBytes)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("report: %w", cerr)
		}
	}()

	auditOpts := []audit.Option{audit.WithConsole(stdout, opts.verbose)}
	if cfg.MQTT.Enabled {
		if pub := connectPublisher(cfg.MQTT); pub != nil {
			defer pub.Close()
			auditOpts = append(auditOpts, audit.WithPublisher(pub))
		}
	}

	auditor, err := audit.New(audit.Config{
		Params:    cfg.BatteryParams(),
		File:      opts.file,
		RCTCutoff: cfg.Health.RCTCutoff,
		APTCutoff: cfg.Health.APTCutoff,
		APTWindow: cfg.Health.APTWindow,
	}, sink, auditOpts...)
	if err != nil {
		return err
	}
	status.auditor.Store(auditor)

	res, err := auditor.Run(ctx, reader)
	if err != nil {
		return err
	}

	stats := reader.Stats()
	log.Printf("capture: %s frames=%d accepted=%d filtered=%d no_esp=%d empty=%d",
		reader.Format(), stats.Frames, stats.Accepted, stats.Filtered, stats.NoESP, stats.Empty)
	_, _ = fmt.Fprintf(stdout, "Total Read time: %s for %d encrypted:%d\n", res.Elapsed, res.Frames, res.Tested)
	_, _ = fmt.Fprintf(stdout, "Report written to %s\n", cfg.Report.Path)
	return nil
}

// connectPublisher returns nil when the broker cannot be reached; the audit
// still runs and only the summary announcement is lost.
func connectPublisher(cfg config.MQTT) summaryPublisher {
	pub, err := newPublisherFunc(mqtt.Config{
		BrokerURL:      cfg.BrokerURL,
		ClientID:       cfg.ClientID,
		Topic:          cfg.Topic,
		QoS:            cfg.QoS,
		Username:       cfg.Username,
		Password:       cfg.Password,
		TLSCAFile:      cfg.TLSCAFile,
		PublishTimeout: cfg.PublishTimeout,
	})
	if err != nil {
		log.Printf("mqtt: %v (continuing without summary publishing)", err)
		return nil
	}
	if err := pub.Connect(); err != nil {
		pub.Close()
		log.Printf("mqtt: %v (continuing without summary publishing)", err)
		return nil
	}
	return pub
}

// startMetricsServer serves plain HTTP unless TLS is configured.
func startMetricsServer(server metricsServer, cfg config.Metrics) error {
	if !cfg.TLSEnabled {
		return server.Start()
	}
	return server.StartTLS(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile, parseClientAuth(cfg.TLSClientAuth))
}

func parseClientAuth(mode string) tls.ClientAuthType {
	switch mode {
	case config.ClientAuthRequire:
		return tls.RequireAndVerifyClientCert
	case config.ClientAuthRequest:
		return tls.RequestClientCert
	default:
		return tls.NoClientCert
	}
}

// selfTest runs the battery on n bytes from the random source and prints the
// slot table.
func selfTest(w io.Writer, params battery.Params, n int) error {
	data := make([]byte, n)
	if _, err := io.ReadFull(randomSource, data); err != nil {
		return fmt.Errorf("read random bytes: %w", err)
	}
	rv, err := battery.Run(data, params)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "self-test on %d random bytes\n", n)
	return report.WriteSampleTable(w, summary.Summarize(rv, params.ConfidenceLevel))
}
