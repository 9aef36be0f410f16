// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/wundergraph/go-mps"
	"github.com/wundergraph/go-mps/internal/tree"
	"github.com/wundergraph/go-mps/metrics"
)

const minDepth = 4

type benchConfig struct {
	depth     int
	pool      string
	arenaSize uintptr
	trigger   uintptr
	logger    *slog.Logger
	// metrics receives the arena's counters in Prometheus text format
	// when set.
	metrics io.Writer
}

func newPool(arena *mps.Arena, class string) (mps.Pool, error) {
	format, err := mps.NewObjectFormat(arena, tree.Align, tree.Format{})
	if err != nil {
		return nil, err
	}
	var pool mps.Pool
	switch class {
	case "ams":
		pool, err = mps.NewAutoMarkSweep(arena).Build(format)
	case "amc":
		pool, err = mps.NewAutoMostlyCopying(arena).Build(format)
	default:
		format.Destroy()
		return nil, fmt.Errorf("unknown pool class %q", class)
	}
	if err != nil {
		format.Destroy()
		return nil, err
	}
	return pool, nil
}

func runBench(w io.Writer, cfg benchConfig) error {
	maxDepth := max(cfg.depth, minDepth+2)

	arena, err := mps.NewArena(
		mps.WithArenaSize(cfg.arenaSize),
		mps.WithCollectionTrigger(cfg.trigger),
		mps.WithLogger(cfg.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create arena: %w", err)
	}
	defer arena.Destroy()

	thread, err := arena.RegisterThread()
	if err != nil {
		return fmt.Errorf("failed to register thread: %w", err)
	}
	defer thread.Destroy()

	pool, err := newPool(arena, cfg.pool)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer pool.Destroy()

	ap, err := pool.CreateAllocationPoint()
	if err != nil {
		return fmt.Errorf("failed to create allocation point: %w", err)
	}
	defer ap.Destroy()

	stack, err := tree.NewStack(arena, 4*maxDepth+8)
	if err != nil {
		return fmt.Errorf("failed to register stack: %w", err)
	}
	defer stack.Destroy()
	b := tree.NewBuilder(ap, stack)

	if err := b.BottomUp(maxDepth + 1); err != nil {
		return fmt.Errorf("stretch tree: %w", err)
	}
	fmt.Fprintf(w, "stretch tree of depth %d\t check: %d\n", maxDepth+1, tree.ItemCheck(stack.Pop()))

	if err := b.BottomUp(maxDepth); err != nil {
		return fmt.Errorf("long lived tree: %w", err)
	}

	for d := minDepth; d <= maxDepth; d += 2 {
		iterations := 1 << (maxDepth - d + minDepth)
		check := 0
		for range iterations {
			if err := b.BottomUp(d); err != nil {
				return fmt.Errorf("tree of depth %d: %w", d, err)
			}
			check += tree.ItemCheck(stack.Pop())
		}
		fmt.Fprintf(w, "%d\t trees of depth %d\t check: %d\n", iterations, d, check)
	}

	fmt.Fprintf(w, "long lived tree of depth %d\t check: %d\n", maxDepth, tree.ItemCheck(stack.Pop()))

	if cfg.metrics != nil {
		if err := writeMetrics(cfg.metrics, arena); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	st := arena.Stats()
	cfg.logger.Info("benchmark finished",
		"pool", cfg.pool,
		"collections", st.Collections,
		"movedCollections", st.MovedCollections,
		"peakCommitted", st.PeakCommitted,
		"bytesReclaimed", st.BytesReclaimed,
	)
	return nil
}

func writeMetrics(w io.Writer, arena *mps.Arena) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(arena, nil)); err != nil {
		return err
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
