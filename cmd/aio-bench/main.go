package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	aio "github.com/ehrlich-b/go-aio"
	"github.com/ehrlich-b/go-aio/internal/logging"
)

// Config is the benchmark configuration. Every field can come from the YAML
// file and be overridden by the matching flag.
type Config struct {
	Backend     string        `yaml:"backend"`      // memory, null or uring
	FileSize    string        `yaml:"file_size"`    // e.g. 64M
	BlockSize   string        `yaml:"block_size"`   // e.g. 4K
	Ops         int           `yaml:"ops"`          // total operations, 0 = until interrupted
	Duration    time.Duration `yaml:"duration"`     // stop after this long, 0 = no limit
	ReadRatio   float64       `yaml:"read_ratio"`   // fraction of reads, rest are writes
	Rate        float64       `yaml:"rate"`         // submissions per second, 0 = unlimited
	RingSize    uint32        `yaml:"ring_size"`    // context ring size
	Workers     int           `yaml:"workers"`      // work queue workers
	Queue       bool          `yaml:"queue"`        // submit through the work queue instead of the ring
	LogLevel    string        `yaml:"log_level"`    // debug, info, warn, error
	LogFormat   string        `yaml:"log_format"`   // text or json
	MetricsAddr string        `yaml:"metrics_addr"` // serve Prometheus metrics here when set
}

func defaultConfig() Config {
	return Config{
		Backend:   "memory",
		FileSize:  "64M",
		BlockSize: "4K",
		Ops:       100000,
		ReadRatio: 0.7,
		RingSize:  aio.DefaultRingSize,
		Workers:   aio.DefaultWorkers,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func main() {
	cfg := defaultConfig()
	var (
		configPath  = flag.String("config", "", "YAML configuration file")
		backendName = flag.String("backend", cfg.Backend, "Backend: memory, null or uring")
		fileSize    = flag.String("file-size", cfg.FileSize, "Size of the target file (e.g., 64M, 1G)")
		blockSize   = flag.String("block-size", cfg.BlockSize, "Size of each transfer (e.g., 4K)")
		ops         = flag.Int("ops", cfg.Ops, "Number of operations (0 = until interrupted)")
		duration    = flag.Duration("duration", cfg.Duration, "Stop after this long (0 = no limit)")
		readRatio   = flag.Float64("read-ratio", cfg.ReadRatio, "Fraction of operations that are reads")
		rateLimit   = flag.Float64("rate", cfg.Rate, "Submissions per second (0 = unlimited)")
		ringSize    = flag.Uint("ring", uint(cfg.RingSize), "Context ring size")
		workers     = flag.Int("workers", cfg.Workers, "Work queue workers")
		useQueue    = flag.Bool("queue", cfg.Queue, "Submit through the shared work queue")
		logLevel    = flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
		logFormat   = flag.String("log-format", cfg.LogFormat, "Log format: text or json")
		metricsAddr = flag.String("metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
		verbose     = flag.Bool("v", false, "Verbose output (same as -log-level debug)")
	)
	flag.Parse()

	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
	}

	// Flags given explicitly win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backendName
		case "file-size":
			cfg.FileSize = *fileSize
		case "block-size":
			cfg.BlockSize = *blockSize
		case "ops":
			cfg.Ops = *ops
		case "duration":
			cfg.Duration = *duration
		case "read-ratio":
			cfg.ReadRatio = *readRatio
		case "rate":
			cfg.Rate = *rateLimit
		case "ring":
			cfg.RingSize = uint32(*ringSize)
		case "workers":
			cfg.Workers = *workers
		case "queue":
			cfg.Queue = *useQueue
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	if *verbose {
		cfg.LogLevel = "debug"
	}

	// Set up logging
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logConfig := logging.DefaultConfig()
	logConfig.Level = level
	logConfig.Format = cfg.LogFormat
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)
	defer logger.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("benchmark failed", "error", err)
		logger.Close()
		os.Exit(1)
	}
}

func run(cfg Config, logger *logging.Logger) error {
	fileSize, err := parseSize(cfg.FileSize)
	if err != nil {
		return fmt.Errorf("invalid file size %q: %w", cfg.FileSize, err)
	}
	blockSize, err := parseSize(cfg.BlockSize)
	if err != nil || blockSize <= 0 || blockSize > fileSize {
		return fmt.Errorf("invalid block size %q", cfg.BlockSize)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	tgt, err := openTarget(cfg.Backend, fileSize, blockSize, cfg.RingSize, logger)
	if err != nil {
		return err
	}
	defer tgt.cleanup()

	opts := &aio.Options{Context: ctx, Logger: logger, Backend: tgt.backend}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		obs, err := aio.NewPrometheusObserver(reg, "")
		if err != nil {
			return err
		}
		opts.Observer = obs
		go serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	params := aio.DefaultParams()
	params.RingSize = cfg.RingSize
	params.Workers = cfg.Workers
	sub, err := aio.NewSubsystem(params, opts)
	if err != nil {
		return err
	}
	defer sub.Close()

	ioctx, err := sub.CreateContext(cfg.RingSize)
	if err != nil {
		return err
	}

	go func() {
		if err := sub.Serve(ctx); err != nil {
			logger.Error("serve failed", "error", err)
		}
	}()

	logger.Info("starting benchmark",
		"backend", cfg.Backend,
		"file_size", formatSize(fileSize),
		"block_size", formatSize(blockSize),
		"ops", cfg.Ops,
		"read_ratio", cfg.ReadRatio,
		"rate", cfg.Rate,
		"queue", cfg.Queue)

	res := drive(ctx, cfg, sub, ioctx, tgt, uint64(fileSize/blockSize), uint32(blockSize))
	printReport(cfg, res, sub.Metrics().Snapshot(), ioctx.Stats().Snapshot())
	return nil
}

type result struct {
	submitted uint64
	completed uint64
	failed    uint64
	elapsed   time.Duration
}

// drive submits operations until the count is reached or ctx ends, and
// collects every completion for what was submitted.
func drive(ctx context.Context, cfg Config, sub *aio.Subsystem, ioctx *aio.Context, tgt *target, blocks uint64, blockSize uint32) result {
	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var res result
	start := time.Now()
	reap := func() {
		for _, cqe := range ioctx.PollCompletions(int(ioctx.RingSize())) {
			res.completed++
			if cqe.IsError() {
				res.failed++
				logging.Debug("operation failed", "token", cqe.UserData, "errno", cqe.Errno())
			}
		}
	}

	inflightCap := uint64(ioctx.RingSize())
	for cfg.Ops == 0 || res.submitted < uint64(cfg.Ops) {
		if ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		// Keep no more in flight than the completion ring holds
		for res.submitted-res.completed >= inflightCap && ctx.Err() == nil {
			reap()
			time.Sleep(aio.DefaultIdleBackoff)
		}

		token := res.submitted + 1
		off := uint64(rng.Int63n(int64(blocks))) * uint64(blockSize)
		var sqe aio.SQE
		if rng.Float64() < cfg.ReadRatio {
			sqe = aio.Read(tgt.fd, tgt.readBuf, blockSize, off, token)
		} else {
			sqe = aio.Write(tgt.fd, tgt.writeBuf, blockSize, off, token)
		}

		var err error
		if cfg.Queue {
			err = sub.Submit(ioctx.ID(), sqe)
		} else {
			err = ioctx.Submit(sqe)
		}
		if errors.Is(err, aio.ErrRingFull) {
			reap()
			continue
		}
		if err != nil {
			logging.Error("submit failed", "error", err)
			break
		}
		res.submitted++
		reap()
	}

	// Collect the stragglers
	deadline := time.Now().Add(5 * time.Second)
	for res.completed < res.submitted && time.Now().Before(deadline) {
		reap()
		time.Sleep(aio.DefaultIdleBackoff)
	}
	res.elapsed = time.Since(start)
	return res
}

func printReport(cfg Config, res result, m aio.MetricsSnapshot, cs aio.ContextStatsSnapshot) {
	secs := res.elapsed.Seconds()
	if secs == 0 {
		secs = 1
	}
	fmt.Printf("Backend:     %s\n", cfg.Backend)
	fmt.Printf("Elapsed:     %s\n", res.elapsed.Round(time.Millisecond))
	fmt.Printf("Submitted:   %d\n", res.submitted)
	fmt.Printf("Completed:   %d (%d failed)\n", res.completed, res.failed)
	fmt.Printf("IOPS:        %.0f\n", float64(res.completed)/secs)
	fmt.Printf("Read:        %s/s (%d ops)\n", formatSize(int64(float64(cs.BytesRead)/secs)), m.Read.Ops)
	fmt.Printf("Write:       %s/s (%d ops)\n", formatSize(int64(float64(cs.BytesWritten)/secs)), m.Write.Ops)
	fmt.Printf("Latency:     avg %s, p50 %s, p99 %s, p99.9 %s\n",
		time.Duration(m.AvgLatencyNs),
		time.Duration(m.LatencyP50Ns),
		time.Duration(m.LatencyP99Ns),
		time.Duration(m.LatencyP999Ns))
	fmt.Printf("Overflows:   sq=%d cq=%d\n", cs.SQOverflows, cs.CQOverflows)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}

// parseSize parses a size string like "64M", "1G", "512K"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	if strings.HasSuffix(s, "K") {
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	} else if strings.HasSuffix(s, "M") {
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	} else if strings.HasSuffix(s, "G") {
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	} else {
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
