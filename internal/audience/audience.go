// Package audience bulk-imports customer allow and deny lists from gzip
// files holding one customer id per line.
package audience

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/discount-engine/internal/domain/discount"
)

const (
	maxFiles      = 64
	maxIDLen      = 128
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

// List selects which customer list of a rule an import targets.
type List string

const (
	Allow List = "allow"
	Deny  List = "deny"
)

// Options tune Collect.
type Options struct {
	// MinFiles keeps only ids present in at least that many files. Values
	// below 2 take the union of all files.
	MinFiles int
	// ExpectedIDs sizes the per-file bloom filters used when MinFiles > 1.
	ExpectedIDs uint
}

// Collect reads every file concurrently and returns the distinct customer
// ids, sorted. Blank lines and lines starting with '#' are skipped.
func Collect(ctx context.Context, paths []string, opts Options) ([]string, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input files")
	}
	if len(paths) > maxFiles {
		return nil, errors.Errorf("at most %d files are supported, got %d", maxFiles, len(paths))
	}
	if opts.MinFiles > len(paths) {
		return nil, errors.Errorf("min files %d exceeds %d input files", opts.MinFiles, len(paths))
	}

	var (
		ids []string
		err error
	)
	if opts.MinFiles < 2 {
		ids, err = union(ctx, paths)
	} else {
		ids, err = intersect(ctx, paths, opts)
	}
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func union(ctx context.Context, paths []string) ([]string, error) {
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			local := make(map[string]struct{})
			if err := streamIDs(ctx, path, func(id string) { local[id] = struct{}{} }); err != nil {
				return errors.Wrapf(err, "read file %d", i+1)
			}
			mu.Lock()
			for id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
			slog.Info("audience file read", slog.String("path", path), slog.Int("ids", len(local)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// intersect runs two passes: one bloom filter per file, then each file is
// re-read to mark ids that the other filters probably contain. The file
// bitmasks are merged and ids in fewer than MinFiles files are dropped.
// Bits are only set by actual occurrences, so a false positive can at most
// mark a single-file id, which the threshold removes.
func intersect(ctx context.Context, paths []string, opts Options) ([]string, error) {
	capacity := opts.ExpectedIDs
	if capacity == 0 {
		capacity = 1_000_000
	}

	filters := make([]*bloom.BloomFilter, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			f := bloom.NewWithEstimates(capacity, bloomFPR)
			if err := streamIDs(gctx, path, func(id string) { f.AddString(id) }); err != nil {
				return errors.Wrapf(err, "index file %d", i+1)
			}
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	masks := make([]map[string]uint64, len(paths))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			local := make(map[string]uint64)
			err := streamIDs(gctx, path, func(id string) {
				for j, f := range filters {
					if j != i && f.TestString(id) {
						local[id] |= 1 << uint(i)
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %d", i+1)
			}
			masks[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, m := range masks {
		for id, mask := range m {
			merged[id] |= mask
		}
	}

	var out []string
	for id, mask := range merged {
		if bits.OnesCount64(mask) >= opts.MinFiles {
			out = append(out, id)
		}
	}
	return out, nil
}

// streamIDs calls fn for each valid id in a gzip file.
func streamIDs(ctx context.Context, path string, fn func(id string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var count int
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := strings.TrimSpace(scanner.Text())
		if id == "" || strings.HasPrefix(id, "#") || len(id) > maxIDLen {
			continue
		}
		fn(id)
		if count++; count%progressEvery == 0 {
			slog.Info("audience progress", slog.String("path", path), slog.Int("ids", count))
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// Apply merges ids into the selected list of rule, or replaces the list when
// replace is set. The result is sorted and free of duplicates.
func Apply(rule *discount.Rule, list List, ids []string, replace bool) error {
	var target *[]string
	switch list {
	case Allow:
		target = &rule.AllowedCustomerIDs
	case Deny:
		target = &rule.ExcludedCustomerIDs
	default:
		return errors.Errorf("unknown list %q", list)
	}

	merged := slices.Clone(ids)
	if !replace {
		merged = append(merged, *target...)
	}
	slices.Sort(merged)
	*target = slices.Compact(merged)
	return nil
}
