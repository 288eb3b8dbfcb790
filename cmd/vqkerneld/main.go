package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/vqkernel/vqkernel"
	"github.com/vqkernel/vqkernel/internal/interfaces"
	"github.com/vqkernel/vqkernel/internal/logging"
	"github.com/vqkernel/vqkernel/internal/platform/hostedio"
	"github.com/vqkernel/vqkernel/internal/platform/simplatform"
	"github.com/vqkernel/vqkernel/internal/rng"
)

// bootstrapRounds is how many entropy-device reads the CSPRNG bootstrap
// mixes in before the kernel's callers can trust it for anything. There
// is no hardware RNG quality signal to poll for in the hosted simulator,
// so a fixed round count stands in for "seed ready".
const bootstrapRounds = 8

func main() {
	var (
		sizeStr  = flag.String("size", "64M", "Size of the block device (e.g., 64M, 1G)")
		diskPath = flag.String("disk", "", "Back the block device with this file via io_uring instead of RAM")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var store interfaces.BlockStore
	if *diskPath != "" {
		fileStore, err := hostedio.Open(*diskPath, size, vqkernel.DefaultQueueDepth)
		if err != nil {
			logger.Error("failed to open disk-backed block store", "path", *diskPath, "error", err)
			os.Exit(1)
		}
		defer fileStore.Close()
		store = fileStore
		logger.Info("block device backed by file", "path", *diskPath, "size", formatSize(size))
	} else {
		store = simplatform.NewMemStore(size)
		logger.Info("block device backed by memory", "size", formatSize(size))
	}

	plat, kernel, err := simplatform.New(store)
	if err != nil {
		logger.Error("failed to bring up hosted platform", "error", err)
		os.Exit(1)
	}

	seed := bootstrapCSPRNG(plat, kernel, logger)
	var sample [1]byte
	seed.Read(sample[:])
	logger.Info("csprng seeded", "rounds", bootstrapRounds, "sample_byte", fmt.Sprintf("%#02x", sample[0]))

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("kernel running", "queue_depth", vqkernel.DefaultQueueDepth)
	fmt.Printf("vqkerneld running (size=%s). Press Ctrl+C to stop.\n", formatSize(size))

	var nowMs int64
	for {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			plat.Abort()
			return
		default:
		}

		waitMs, ok := kernel.NextDelay()
		if !ok || waitMs > vqkernel.MaxWaitMs {
			waitMs = vqkernel.MaxWaitMs
		}
		nowMs = plat.WaitForInterrupt(waitMs)
		kernel.Tick(nowMs)
	}
}

// bootstrapCSPRNG submits one entropy read per round and, instead of
// blocking in WaitForInterrupt, spins on Driver.PollOnce plus
// kernel.Tick(0) (whose platform Tick also drains the entropy driver)
// until the read's callback fires, mixing each result in. This is the
// one use of Driver.PollOnce outside of tests; it runs before the
// caller has entered the full WaitForInterrupt/Tick loop.
func bootstrapCSPRNG(plat *simplatform.Platform, kernel *vqkernel.Kernel, logger *logging.Logger) *rng.CSPRNG {
	csp := &rng.CSPRNG{}
	entropyDrv := plat.EntropyDriver()
	log := logger.WithComponent("bootstrap")

	for i := 0; i < bootstrapRounds; i++ {
		buf := make([]byte, 32)
		var req vqkernel.RngRequest
		done := false
		vqkernel.InitRng(&req, buf, nil, func(*vqkernel.Work) { done = true }, 0)

		if result := kernel.Submit(&req.Work); result != vqkernel.ResultOk {
			log.LogKernelError(vqkernel.NewDeviceError("bootstrap-submit", "entropy", result, "entropy submit rejected"))
			continue
		}
		kernel.Tick(0) // drains submitQ, hands the request to the entropy driver

		for !done {
			entropyDrv.PollOnce(kernel)
			kernel.Tick(0) // drains the ready queue so the callback above fires
			if !done {
				time.Sleep(time.Millisecond)
			}
		}
		log.LogCompletion(req.Work.Op, req.Work.Result, 0)
		csp.Mix(buf)
	}
	return csp
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)
	var multiplier int64 = 1
	var numStr string
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
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
