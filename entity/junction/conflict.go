package junction

import (
	"math"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
	"golang.org/x/exp/slices"
)

const (
	mergeZoneLength = 10.0 // 合流、分流冲突区的最大长度
)

// zonePair 一对冲突区，两条车道各持有一份，共享同一个ID
type zonePair [2]*entity.ConflictZone

// buildConflictZones 构建路口内行车道之间的冲突区
// 功能：两两检查路口内行车道，生成合流、分流与交叉冲突区并挂到车道上
// 参数：lanes-路口内的行车道
// 返回：所有冲突区对，ID尚未分配
// 算法说明：
// 1. 后继相同的车道对为合流，冲突区位于两车道末端；直行优先于转弯，同为直行或转弯时ID小的优先
// 2. 前驱相同的车道对为分流，冲突区位于两车道起点，双方均不需让行
// 3. 其余车道对按地图中的冲突点生成交叉冲突区，冲突区长度为对方车道宽度，通行权来自冲突点的优先关系
func buildConflictZones(lanes []entity.ILane) []zonePair {
	sorted := slices.Clone(lanes)
	slices.SortFunc(sorted, func(a, b entity.ILane) int { return int(a.ID()) - int(b.ID()) })
	pairs := make([]zonePair, 0)
	for i, a := range sorted {
		aPre, _ := a.UniquePredecessor()
		aSuc, _ := a.UniqueSuccessor()
		for _, b := range sorted[i+1:] {
			bPre, _ := b.UniquePredecessor()
			bSuc, _ := b.UniqueSuccessor()
			switch {
			case aSuc != nil && aSuc == bSuc:
				pairs = append(pairs, newMergePair(a, b))
			case aPre != nil && aPre == bPre:
				pairs = append(pairs, newSplitPair(a, b))
			default:
				overlaps := a.Overlaps()
				keys := lo.Keys(overlaps)
				slices.Sort(keys)
				for _, selfS := range keys {
					if overlap := overlaps[selfS]; overlap.Other == b {
						pairs = append(pairs, newCrossingPair(a, selfS, b, overlap))
					}
				}
			}
		}
	}
	for _, p := range pairs {
		p[0].Other.AddConflictZoneWhenInit(p[1])
		p[1].Other.AddConflictZoneWhenInit(p[0])
	}
	return pairs
}

func newMergePair(a, b entity.ILane) zonePair {
	aLen, bLen := math.Min(mergeZoneLength, a.Length()), math.Min(mergeZoneLength, b.Length())
	aRule, bRule := perception.Priority, perception.GiveWay
	aStraight := a.Turn() == mapv2.LaneTurn_LANE_TURN_STRAIGHT
	bStraight := b.Turn() == mapv2.LaneTurn_LANE_TURN_STRAIGHT
	if bStraight && !aStraight {
		aRule, bRule = bRule, aRule
	}
	return zonePair{
		{Type: perception.Merge, Rule: aRule, S: a.Length() - aLen, Length: aLen, Other: b, OtherS: b.Length() - bLen},
		{Type: perception.Merge, Rule: bRule, S: b.Length() - bLen, Length: bLen, Other: a, OtherS: a.Length() - aLen},
	}
}

func newSplitPair(a, b entity.ILane) zonePair {
	aLen, bLen := math.Min(mergeZoneLength, a.Length()), math.Min(mergeZoneLength, b.Length())
	return zonePair{
		{Type: perception.Split, Rule: perception.Priority, S: 0, Length: aLen, Other: b, OtherS: 0},
		{Type: perception.Split, Rule: perception.Priority, S: 0, Length: bLen, Other: a, OtherS: 0},
	}
}

func newCrossingPair(a entity.ILane, selfS float64, b entity.ILane, overlap entity.Overlap) zonePair {
	aRule, bRule := perception.GiveWay, perception.Priority
	if overlap.SelfFirst {
		aRule, bRule = bRule, aRule
	}
	aS := math.Max(selfS-b.Width()/2, 0)
	bS := math.Max(overlap.OtherS-a.Width()/2, 0)
	return zonePair{
		{Type: perception.Crossing, Rule: aRule, S: aS, Length: b.Width(), KeepClear: true, Other: b, OtherS: bS},
		{Type: perception.Crossing, Rule: bRule, S: bS, Length: a.Width(), KeepClear: true, Other: a, OtherS: aS},
	}
}
