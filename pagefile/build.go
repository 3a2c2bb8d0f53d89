package pagefile

// Builder consumes a fully known input set and a Configuration and emits
// the complete byte stream of a pagefile (spec §4.3). It is single-use:
// once Seal has been called the Builder should be discarded.
//
// Mirrors compactindexsized.Builder's Insert/Seal shape, but replaces its
// per-bucket FKS perfect-hash mining with the spec's open-addressing
// placement, and its variable per-bucket header with the spec's single
// global page geometry.

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"syscall"
	"time"

	"github.com/rngfile/pagefile/buildinfo"
	"github.com/rngfile/pagefile/continuity"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// maxPageCount bounds the sizing-phase search (spec §4.3's "implementation
// defined maximum"), chosen at the same order of magnitude as the
// teacher's own maxEntriesPerBucket bound.
const maxPageCount = 1 << 24

// targetLoadFactor is the sizing phase's target table occupancy (spec §4.1/§4.3).
const targetLoadFactor = 0.75

type kv struct {
	key, value       []byte
	pageWord, slotWord uint64
}

// Builder accumulates key/value pairs before a single Seal call.
type Builder struct {
	cfg     Configuration
	entries []kv
	seen    map[string]struct{}

	kind      []byte
	createdAt string
}

// NewBuilder creates an empty Builder for the given configuration.
func NewBuilder(cfg Configuration) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, seen: make(map[string]struct{})}, nil
}

// SetKind records a short descriptive tag persisted in the build's trailer
// metadata (see package buildinfo). Purely informational; never consulted
// by Lookup.
func (b *Builder) SetKind(kind []byte) {
	b.kind = append([]byte(nil), kind...)
}

// SetCreatedAt records an explicit build timestamp in the trailer metadata,
// formatted as RFC3339 in UTC. Omitted by default: build(S, C) must be a
// pure function of its inputs (spec §8), so Seal never stamps time.Now()
// on its own — a caller that wants a timestamp recorded supplies it, and
// is responsible for picking one that doesn't break their own determinism
// requirements (e.g. the commit time of S, not wall-clock build time).
func (b *Builder) SetCreatedAt(t time.Time) {
	b.createdAt = t.UTC().Format(time.RFC3339)
}

// Insert adds a key/value mapping. Returns ErrDuplicateKey if key was
// already inserted.
func (b *Builder) Insert(key, value []byte) error {
	k := string(key)
	if _, dup := b.seen[k]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	b.seen[k] = struct{}{}
	pageWord, slotWord := Digest(key)
	b.entries = append(b.entries, kv{
		key:      append([]byte(nil), key...),
		value:    append([]byte(nil), value...),
		pageWord: pageWord,
		slotWord: slotWord,
	})
	return nil
}

// Len returns the number of distinct keys inserted so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// buildPlan is the output of a feasible (pageCount, heapBytes, tableSlots)
// trial: which page each entry lands on, and whether it's inline or external.
type buildPlan struct {
	pageCount  uint64
	heapBytes  uint32
	tableSlots uint32

	// pages[p] lists indices into Builder.entries assigned to page p, in
	// the smallest-first order used for packing.
	pages [][]int
	// external[p][i] is true if pages[p][i] is stored externally.
	external [][]bool

	rawPayloadBytes   uint64
	tailBytes         uint64
	externalCount     int
}

func nextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// planBuild attempts to size and (feasibility-)place all entries across
// pageCount pages. Returns (plan, true) on success, (nil, false) if this
// pageCount cannot satisfy geometry or configuration constraints.
func (b *Builder) planBuild(sortedIdx []int, pageCount uint64) (*buildPlan, bool) {
	pages := make([][]int, pageCount)
	for _, idx := range sortedIdx {
		e := b.entries[idx]
		p := PageIndex(e.pageWord, pageCount)
		pages[p] = append(pages[p], idx)
	}

	maxLoad := 0
	for _, p := range pages {
		if len(p) > maxLoad {
			maxLoad = len(p)
		}
	}
	tableSlots := nextPow2(uint64(ceilDiv(maxLoad, targetLoadFactor)))
	if tableSlots == 0 {
		tableSlots = 1
	}

	// budgetH caps the heap region at roughly SmallChangeBytes once the
	// table overhead is subtracted; it is a ceiling, not a target. Small
	// inputs must not be padded out to this ceiling, or a single tiny
	// entry would always blow the waste-ratio budget.
	budgetH := int64(b.cfg.SmallChangeBytes) - 4*int64(tableSlots)
	if budgetH < HeaderSize {
		budgetH = HeaderSize
	}

	// need[p] is how much heap space page p would require if every one
	// of its entries were stored inline, uncapped. H is sized to the
	// busiest page's actual need, capped at budgetH; every page gets H
	// heap bytes, and pages whose need exceeds H spill into external stubs.
	need := make([]int, pageCount)
	for p := uint64(0); p < pageCount; p++ {
		reserve := 0
		if p == 0 {
			reserve = HeaderSize
		}
		n := reserve
		for _, idx := range pages[p] {
			e := b.entries[idx]
			n += InternalEntrySize(len(e.key), len(e.value))
		}
		need[p] = n
	}
	maxNeed := int64(0)
	for _, n := range need {
		if int64(n) > maxNeed {
			maxNeed = int64(n)
		}
	}
	heapBytes := uint32(maxNeed)
	if int64(heapBytes) > budgetH {
		heapBytes = uint32(budgetH)
	}
	if heapBytes < HeaderSize {
		heapBytes = HeaderSize
	}

	external := make([][]bool, pageCount)
	var rawPayload, tailBytes uint64
	var externalCount int
	for p := uint64(0); p < pageCount; p++ {
		headerReserve := 0
		if p == 0 {
			headerReserve = HeaderSize
		}
		assign, ok := partitionPage(pages[p], b.entries, int(heapBytes), headerReserve)
		if !ok {
			return nil, false
		}
		if uint64(len(pages[p])) > tableSlots {
			return nil, false
		}
		external[p] = assign
		for i, idx := range pages[p] {
			e := b.entries[idx]
			sz := uint64(InternalEntrySize(len(e.key), len(e.value)))
			rawPayload += sz
			if assign[i] {
				tailBytes += sz
				externalCount++
			}
		}
	}

	plan := &buildPlan{
		pageCount:       pageCount,
		heapBytes:       heapBytes,
		tableSlots:      uint32(tableSlots),
		pages:           pages,
		external:        external,
		rawPayloadBytes: rawPayload,
		tailBytes:       tailBytes,
		externalCount:   externalCount,
	}

	if len(b.entries) == 0 {
		return plan, true
	}

	header := Header{PageCount: pageCount, HeapBytes: heapBytes, TableSlots: uint32(tableSlots)}
	totalEmitted := pageCount*header.PageSize() + tailBytes + b.trailerFootprint()
	if rawPayload > 0 {
		waste := float64(totalEmitted)/float64(rawPayload) - 1
		if waste > b.cfg.MaxWasteRatio {
			return nil, false
		}
	}
	externalFraction := float64(externalCount) / float64(len(b.entries))
	if externalFraction > b.cfg.MaxExternalRatio {
		return nil, false
	}

	return plan, true
}

func ceilDiv(n int, loadFactor float64) int {
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / loadFactor))
}

// partitionPage applies the smallest-first inline/external split (spec
// §4.3 step c / placement step 2) to one page's assigned entries, which
// must already be in ascending key_len+value_len order.
func partitionPage(idxs []int, entries []kv, heapBudget, headerReserve int) (external []bool, ok bool) {
	remaining := heapBudget - headerReserve
	if remaining < 0 {
		return nil, len(idxs) == 0
	}
	external = make([]bool, len(idxs))
	for i, idx := range idxs {
		e := entries[idx]
		inlineSize := InternalEntrySize(len(e.key), len(e.value))
		switch {
		case remaining >= inlineSize:
			remaining -= inlineSize
		case remaining >= externalStubSize:
			external[i] = true
			remaining -= externalStubSize
		default:
			return nil, false
		}
	}
	return external, true
}

// Seal runs the sizing and placement phases and returns the complete
// encoded file as a single buffer (spec §4.3/§4.4). Context cancellation
// is checked between pages, matching compactindexsized.SealAndClose's use
// of ctx to abort CPU-intensive generation.
func (b *Builder) Seal(ctx context.Context) ([]byte, error) {
	sortedIdx := make([]int, len(b.entries))
	for i := range sortedIdx {
		sortedIdx[i] = i
	}
	sort.Slice(sortedIdx, func(i, j int) bool {
		a, c := b.entries[sortedIdx[i]], b.entries[sortedIdx[j]]
		return len(a.key)+len(a.value) < len(c.key)+len(c.value)
	})

	var plan *buildPlan
	pageCount := uint64(1)
	for {
		if pageCount > maxPageCount {
			return nil, ErrConfigurationInfeasible
		}
		if p, ok := b.planBuild(sortedIdx, pageCount); ok {
			plan = p
			break
		}
		pageCount *= 2
	}

	return b.emit(ctx, plan)
}

// SealToFile runs Seal and writes the result to file, preallocating its
// extent with fallocate first so the write lands on contiguous disk blocks.
// Mirrors compactindexsized.SealAndClose's fallocate-then-write-then-sync
// sequence, and its EOPNOTSUPP fallback to a zero-filling fake fallocate on
// filesystems that don't support the syscall.
func (b *Builder) SealToFile(ctx context.Context, file *os.File) error {
	buf, err := b.Seal(ctx)
	if err != nil {
		return err
	}
	if err := fallocate(file, 0, int64(len(buf))); err != nil {
		if errors.Is(err, syscall.EOPNOTSUPP) {
			if err := fakeFallocate(file, 0, int64(len(buf))); err != nil {
				return fmt.Errorf("failed to fake fallocate() output file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to fallocate() output file: %w", err)
		}
	}
	if _, err := file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("failed to write sealed pagefile: %w", err)
	}
	return continuity.New().
		Thenf("sync", func() error {
			if err := file.Sync(); err != nil {
				return fmt.Errorf("failed to sync file: %w", err)
			}
			return nil
		}).
		Err()
}

// emit lays out the accepted plan into the final byte stream.
func (b *Builder) emit(ctx context.Context, plan *buildPlan) ([]byte, error) {
	header := Header{PageCount: plan.pageCount, HeapBytes: plan.heapBytes, TableSlots: plan.tableSlots}
	pageSize := header.PageSize()
	out := make([]byte, header.TailOffset(), header.TailOffset()+plan.tailBytes+256)
	headerBytes := header.Bytes()
	copy(out[0:HeaderSize], headerBytes[:])

	var tailBuf []byte
	// First pass: assign absolute tail offsets to every external entry, in
	// page order, so page heaps can embed the real offset in their stubs.
	tailOffsets := make(map[int]uint64, plan.externalCount)
	tailOffset := header.TailOffset()
	for p := uint64(0); p < plan.pageCount; p++ {
		for i, idx := range plan.pages[p] {
			if !plan.external[p][i] {
				continue
			}
			e := b.entries[idx]
			tailOffsets[idx] = tailOffset
			tailBuf = AppendInternalEntry(tailBuf, e.key, e.value)
			tailOffset += uint64(InternalEntrySize(len(e.key), len(e.value)))
		}
	}

	bar := newBuildProgress(plan.pageCount)
	defer bar.stop()

	for p := uint64(0); p < plan.pageCount; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageStart := HeaderSize
		if p != 0 {
			pageStart = 0
		}
		pageOff := header.PageOffset(p)
		page := out[pageOff : pageOff+pageSize]
		FillSentinels(page, plan.heapBytes, plan.tableSlots)

		heapCursor := pageStart
		for i, idx := range plan.pages[p] {
			e := b.entries[idx]
			var entryBytes []byte
			if plan.external[p][i] {
				entryBytes = AppendExternalEntry(nil, tailOffsets[idx], uint64(InternalEntrySize(len(e.key), len(e.value))))
			} else {
				entryBytes = AppendInternalEntry(nil, e.key, e.value)
			}
			offset := heapCursor
			copy(page[offset:offset+len(entryBytes)], entryBytes)
			heapCursor += len(entryBytes)

			if err := placeSlot(page, plan.heapBytes, plan.tableSlots, e.slotWord, uint32(offset)); err != nil {
				return nil, err
			}
		}
		bar.increment()
		buildPagesSealedTotal.Inc()
	}

	out = append(out, tailBuf...)

	trailer, err := b.buildTrailer(out)
	if err != nil {
		return nil, err
	}
	trailerOffset := uint64(len(out))
	out = append(out, trailer...)
	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[:], trailerOffset)
	out = append(out, footer[:]...)

	return out, nil
}

// buildIDHexLen is the fixed length of the hex-encoded content fingerprint
// buildTrailer stores as KeyBuildID: two 64-bit words, 16 hex digits each.
const buildIDHexLen = 32

// trailerFootprint returns the exact byte length buildTrailer (plus the
// 8-byte footer) will occupy for the Builder's current kind/createdAt
// settings, without needing the sealed content itself: KeyBuildID's value
// is always buildIDHexLen hex digits, and KeyCreatedAt's value (when set,
// always via SetCreatedAt's RFC3339-UTC formatting) is always 20 bytes.
// planBuild uses this so the §8 waste-ratio bound is checked against the
// file size Seal will actually emit, trailer included.
func (b *Builder) trailerFootprint() uint64 {
	size := 1 // KV count byte
	if len(b.kind) > 0 {
		size += 2 + len(buildinfo.KeyKind) + len(b.kind)
	}
	size += 2 + len(buildinfo.KeyBuildID) + buildIDHexLen
	if b.createdAt != "" {
		size += 2 + len(buildinfo.KeyCreatedAt) + len(b.createdAt)
	}
	return uint64(size) + footerSize
}

// buildTrailer encodes the kind/build-id/created-at metadata block appended
// after the tail area (see package buildinfo). Never consulted by Lookup.
// The build-id is a content fingerprint of the core bytes (header, pages,
// tail area) rather than a random identifier, so build(S, C) stays a pure
// function of its inputs (spec §8): sealing the same entries under the
// same Configuration twice yields the same trailer, byte for byte.
func (b *Builder) buildTrailer(core []byte) ([]byte, error) {
	var meta buildinfo.Meta
	if len(b.kind) > 0 {
		if err := meta.Add(buildinfo.KeyKind, b.kind); err != nil {
			return nil, err
		}
	}
	pageWord, slotWord := Digest(core)
	buildID := fmt.Sprintf("%016x%016x", pageWord, slotWord)
	if len(buildID) != buildIDHexLen {
		return nil, fmt.Errorf("pagefile: internal error: build-id length %d, want %d", len(buildID), buildIDHexLen)
	}
	if err := meta.Add(buildinfo.KeyBuildID, []byte(buildID)); err != nil {
		return nil, err
	}
	if b.createdAt != "" {
		if err := meta.Add(buildinfo.KeyCreatedAt, []byte(b.createdAt)); err != nil {
			return nil, err
		}
	}
	return buildinfo.Encode(meta)
}

// placeSlot walks the probe sequence for slotWord and stores heapOffset
// into the first empty slot (spec §4.3 placement step 6).
func placeSlot(page []byte, heapBytes, tableSlots uint32, slotWord uint64, heapOffset uint32) error {
	for i := uint32(0); i < tableSlots; i++ {
		s := ProbeSequence(slotWord, tableSlots, i)
		if ReadSlot(page, heapBytes, s) == SentinelSlot {
			WriteSlot(page, heapBytes, s, heapOffset)
			return nil
		}
	}
	return fmt.Errorf("%w: probe sequence exhausted", ErrPlacementFailed)
}

// newBuildProgress returns a minimal mpb progress bar tracking pages sealed.
// Used for large builds; a no-op bar is cheap enough to always construct.
func newBuildProgress(pageCount uint64) *buildProgress {
	p := mpb.New(mpb.WithWidth(40), mpb.WithRefreshRate(200*time.Millisecond))
	bar := p.AddBar(int64(pageCount),
		mpb.PrependDecorators(decor.Name("sealing pages")),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
	return &buildProgress{p: p, bar: bar}
}

type buildProgress struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

func (b *buildProgress) increment() { b.bar.Increment() }
func (b *buildProgress) stop() {
	// Wait only returns once every bar is complete or aborted; abort the
	// bar when emit returns early (cancellation or a placement error).
	if !b.bar.Completed() {
		b.bar.Abort(false)
	}
	b.p.Wait()
}
