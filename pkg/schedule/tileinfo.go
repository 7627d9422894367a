// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"fmt"
	"math/bits"
	"slices"

	"github.com/gomlx/opfusion/pkg/support/compileerr"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Tiling limits.
const (
	// MaxBlockSize is the maximum number of threads per block.
	MaxBlockSize = 1024

	// WarpSize is the number of threads of a warp.
	WarpSize = 32

	// WarpReduceLimit is the largest reduction handled by a warp-level reduction.
	WarpReduceLimit = 256

	// BlockReduceLimit is the largest reduction handled by one block in one pass.
	BlockReduceLimit = 2048

	threadsPerWarpGroup = 128
)

// ReduceTypeWarp marks a group whose reductions are done at warp level.
const ReduceTypeWarp = 0

// NextPowerOf2 returns the smallest power of 2 >= n. It returns 1 for n <= 1.
func NextPowerOf2[T constraints.Integer](n T) T {
	if n <= 1 {
		return 1
	}
	return T(1) << bits.Len64(uint64(n-1))
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// TileConfig holds the tiling parameters of a group.
type TileConfig struct {
	// BlockNum is the number of blocks of the grid, only computed for groups without reductions. It is -1 otherwise.
	BlockNum int64

	WarpNum         int64
	FlattenBlock    int64
	FlattenInnerNum int64
	ReduceBlock     int64
	ReduceInnerNum  int64

	// ReduceType is ReduceTypeWarp for warp-level reductions, -1 otherwise.
	ReduceType int
}

// ComputeTileConfig computes the tiling of a group from the number of elements of its flatten (non-reduced) axes and
// of its reduced axes. It is a pure function.
//
// It returns an invariant error if any of the numbers of elements is negative (unresolved symbolic dimensions).
func ComputeTileConfig(flattenNumel, reduceNumel int64) (TileConfig, error) {
	if flattenNumel < 0 || reduceNumel < 0 {
		return TileConfig{}, errors.Wrapf(compileerr.ErrInvariant,
			"negative number of elements: flatten_numel=%d, reduce_numel=%d", flattenNumel, reduceNumel)
	}
	cfg := TileConfig{BlockNum: -1, ReduceType: -1, FlattenBlock: 1, ReduceBlock: 1, FlattenInnerNum: 1, ReduceInnerNum: 1, WarpNum: 1}
	switch {
	case reduceNumel <= 1:
		cfg.FlattenBlock = min(NextPowerOf2(flattenNumel), MaxBlockSize)
		cfg.WarpNum = max(1, cfg.FlattenBlock/threadsPerWarpGroup)
		cfg.FlattenInnerNum = max(1, cfg.FlattenBlock/(cfg.WarpNum*WarpSize))
		cfg.BlockNum = ceilDiv(flattenNumel, cfg.FlattenBlock)
	case reduceNumel <= WarpReduceLimit:
		cfg.ReduceBlock = NextPowerOf2(reduceNumel)
		cfg.FlattenBlock = WarpReduceLimit / cfg.ReduceBlock
		cfg.FlattenInnerNum = cfg.FlattenBlock
		cfg.ReduceInnerNum = max(2, cfg.ReduceBlock/WarpSize)
		cfg.WarpNum = 8
	case reduceNumel <= BlockReduceLimit:
		cfg.ReduceBlock = ceilDiv(reduceNumel, WarpReduceLimit) * WarpReduceLimit
		cfg.WarpNum = cfg.ReduceBlock / WarpReduceLimit
		cfg.ReduceInnerNum = 8
	default:
		cfg.ReduceBlock = BlockReduceLimit
		cfg.WarpNum = 8
		cfg.ReduceInnerNum = ceilDiv(reduceNumel, WarpReduceLimit)
	}
	if cfg.ReduceBlock > 1 && cfg.ReduceBlock <= WarpReduceLimit {
		cfg.ReduceType = ReduceTypeWarp
	}
	return cfg, nil
}

// BroadcastInfo describes how to rewrite the loop nest of a schedule block that broadcasts its input.
type BroadcastInfo struct {
	// BroadcastAxes are the loops whose extents change, and OutputShape their new extents.
	BroadcastAxes []int64
	OutputShape   []int64

	// WithConstrain guards the block body with `loop_var == 0` on the broadcast loops.
	WithConstrain bool

	// FullBroadcast is set when the input is a single element.
	FullBroadcast bool

	// FirstBroadcast is set for the first broadcast of a chain: its loads of the broadcast axes read index 0.
	FirstBroadcast bool

	// SplitFirst flattens store and load indices into offsets over all loops.
	SplitFirst bool

	// OpName of the operation that broadcasts.
	OpName string
}

// String implements fmt.Stringer.
func (b BroadcastInfo) String() string {
	s := fmt.Sprintf("axes=%v, shape=%v", b.BroadcastAxes, b.OutputShape)
	for _, flag := range []struct {
		set  bool
		name string
	}{{b.WithConstrain, "constrain"}, {b.FullBroadcast, "full"}, {b.FirstBroadcast, "first"}, {b.SplitFirst, "split_first"}} {
		if flag.set {
			s += ", " + flag.name
		}
	}
	return s
}

// GroupTileInfo holds the tiling plan of a group, plus the side tables collected while lowering its operations.
// It is computed once per group, before the group schedule, and not changed afterwards.
type GroupTileInfo struct {
	TileConfig

	// ReduceAxis holds the (non-negative) reduced axes of the group iteration space, of rank DataRank.
	ReduceAxis []int64
	DataRank   int

	FlattenNumel, ReduceNumel int64

	// ReduceVarNames are the names of the tensors produced by reductions.
	ReduceVarNames sets.Set[string]
	TempVarNames   sets.Set[string]

	SharedVarNames        sets.Set[string]
	DirectOutputVarNames  sets.Set[string]
	ThreadSyncBeforeNames []string

	// BroadcastInfo is keyed by schedule block (tensor) name.
	BroadcastInfo map[string]BroadcastInfo

	// BroadcastToElementwise is keyed by the name of the tensor of the elementwise consumer of a broadcast.
	BroadcastToElementwise map[string]BroadcastInfo

	// CopyedVarNames are the outputs that are copied to a separate "_out" tensor.
	CopyedVarNames sets.Set[string]
}

// NewGroupTileInfo computes the tiling plan of a group iterating over dims, reducing over reduceAxis
// (negative axes count from the end). The side tables are created empty.
func NewGroupTileInfo(dims []int64, reduceAxis []int64) (*GroupTileInfo, error) {
	info := &GroupTileInfo{
		DataRank:               len(dims),
		ReduceVarNames:         sets.Make[string](),
		TempVarNames:           sets.Make[string](),
		SharedVarNames:         sets.Make[string](),
		DirectOutputVarNames:   sets.Make[string](),
		BroadcastInfo:          make(map[string]BroadcastInfo),
		BroadcastToElementwise: make(map[string]BroadcastInfo),
		CopyedVarNames:         sets.Make[string](),
	}
	reduceSet := sets.Make[int64]()
	for _, axis := range reduceAxis {
		if axis < 0 {
			axis += int64(info.DataRank)
		}
		if axis < 0 || axis >= int64(info.DataRank) {
			return nil, errors.Wrapf(compileerr.ErrInvariant, "reduce axis %d out of range for rank %d", axis, info.DataRank)
		}
		if !reduceSet.Has(axis) {
			info.ReduceAxis = append(info.ReduceAxis, axis)
			reduceSet.Insert(axis)
		}
	}
	slices.Sort(info.ReduceAxis)
	info.FlattenNumel, info.ReduceNumel = 1, 1
	for axis, dim := range dims {
		if reduceSet.Has(int64(axis)) {
			info.ReduceNumel *= dim
		} else {
			info.FlattenNumel *= dim
		}
	}
	cfg, err := ComputeTileConfig(info.FlattenNumel, info.ReduceNumel)
	if err != nil {
		return nil, errors.WithMessagef(err, "tiling of dims %v, reduce axis %v", dims, reduceAxis)
	}
	info.TileConfig = cfg
	return info, nil
}

// HasReduce returns whether the group reduces more than one element.
func (info *GroupTileInfo) HasReduce() bool {
	return info.ReduceNumel > 1
}
