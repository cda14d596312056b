package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tuannm99/novabuf/internal"
	"github.com/tuannm99/novabuf/internal/buffer"
	"github.com/tuannm99/novabuf/internal/file"
	"github.com/tuannm99/novabuf/internal/logging"
	"github.com/tuannm99/novabuf/internal/wal"
)

type workload struct {
	workers int
	ops     int
	blocks  int
	table   string
}

func main() {
	flags := pflag.NewFlagSet("novabuf", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to yaml config file")
	flags.String("data-dir", "./data", "working directory for data and log files")
	flags.Int("capacity", 8, "number of buffers in the pool")
	flags.Duration("max-wait", buffer.MaxWait, "how long a pin waits for a free buffer")
	flags.String("log-level", "info", "debug, info, warn or error")

	var wl workload
	flags.IntVar(&wl.workers, "workers", 4, "concurrent workload goroutines")
	flags.IntVar(&wl.ops, "ops", 1000, "pin/modify/unpin operations per worker")
	flags.IntVar(&wl.blocks, "blocks", 32, "distinct blocks touched by the workload")
	flags.StringVar(&wl.table, "table", "bench.tbl", "file the workload writes to")
	_ = flags.Parse(os.Args[1:])

	v := internal.NewViper()
	_ = v.BindPFlag("storage.workdir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("buffer.capacity", flags.Lookup("capacity"))
	_ = v.BindPFlag("buffer.max_wait", flags.Lookup("max-wait"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			log.Fatalf("Failed to read config: %v", err)
		}
	}
	cfg, err := internal.Decode(v)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, wl, logger); err != nil {
		logger.Error("workload failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *internal.NovaBufConfig, wl workload, logger *slog.Logger) error {
	fm, err := file.NewManager(cfg.Storage.Workdir, cfg.Storage.BlockSize, logger)
	if err != nil {
		return err
	}
	defer func() { _ = fm.Close() }()

	lm, err := wal.Open(cfg.Storage.Workdir)
	if err != nil {
		return err
	}
	defer func() { _ = lm.Close() }()

	bm := buffer.NewManager(fm, lm, cfg.Buffer.Capacity,
		buffer.WithMaxWait(cfg.Buffer.MaxWait),
		buffer.WithFlushParallelism(cfg.Buffer.FlushParallelism),
		buffer.WithLogger(logger),
	)
	logger.Info("buffer manager started",
		"app", cfg.AppName,
		"workdir", cfg.Storage.Workdir,
		"capacity", bm.Capacity(),
		"max_wait", cfg.Buffer.MaxWait,
	)

	if wl.workers <= 0 {
		wl.workers = 1
	}
	per := max(1, wl.blocks/wl.workers)
	if err := ensureBlocks(ctx, bm, wl.table, per*wl.workers, fm); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := range wl.workers {
		txnum := w + 1
		first := int32(w * per)
		g.Go(func() error { return worker(gctx, bm, lm, wl, txnum, first, int32(per)) })
	}
	werr := g.Wait()

	printStatistics(bm)
	bm.LogStatistics(ctx)

	m := bm.Metrics()
	logger.Info("workload finished",
		"hits", m.Hits,
		"misses", m.Misses,
		"free_list_allocs", m.FreeListAllocs,
		"evictions", m.Evictions,
		"waits", m.Waits,
		"aborts", m.Aborts,
	)
	if errors.Is(werr, context.Canceled) {
		return nil
	}
	return werr
}

// ensureBlocks appends blocks to table until it has at least n of them.
func ensureBlocks(ctx context.Context, bm *buffer.Manager, table string, n int, fm *file.Manager) error {
	have, err := fm.Length(table)
	if err != nil {
		return err
	}
	for i := int(have); i < n; i++ {
		buf, err := bm.PinNew(ctx, table, buffer.ZeroFormatter)
		if err != nil {
			return err
		}
		if err := bm.Unpin(buf); err != nil {
			return err
		}
	}
	return nil
}

// worker repeatedly pins a random block of its own range [first, first+n),
// bumps a counter in it under a new log record, then unpins it. Each worker
// acts as one transaction and flushes its pages at the end.
// Ranges do not overlap, so no page is written by two workers.
func worker(ctx context.Context, bm *buffer.Manager, lm *wal.Manager, wl workload, txnum int, first, n int32) error {
	rec := make([]byte, 12)
	for range wl.ops {
		blk := file.NewBlock(wl.table, first+rand.Int32N(n))
		buf, err := bm.Pin(ctx, blk)
		if err != nil {
			return fmt.Errorf("tx %d: %w", txnum, err)
		}

		page := buf.Contents()
		v, err := page.GetInt(0)
		if err == nil {
			binary.LittleEndian.PutUint32(rec[0:], uint32(txnum))
			binary.LittleEndian.PutUint32(rec[4:], uint32(blk.Number))
			binary.LittleEndian.PutUint32(rec[8:], uint32(v))
			var lsn uint64
			lsn, err = lm.Append(rec)
			if err == nil {
				if err = page.SetInt(0, v+1); err == nil {
					buf.SetModified(txnum, int64(lsn))
				}
			}
		}

		if uerr := bm.Unpin(buf); uerr != nil {
			return uerr
		}
		if err != nil {
			return fmt.Errorf("tx %d: update %s: %w", txnum, blk, err)
		}
	}
	return bm.FlushAll(txnum)
}

func printStatistics(bm *buffer.Manager) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "INDEX\tBLOCK\tPINS\tREADS\tWRITES\tLSN\tTX")
	for _, s := range bm.Statistics() {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\n",
			s.Index, s.Block, s.Pins, s.ReadCount, s.WriteCount, s.LSN, s.ModifyingTx)
	}
	_ = tw.Flush()
}
