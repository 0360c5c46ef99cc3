package state

// VoteCost 按BRND能量等级计算投票成本（整币单位）
// 0级100，1级150为特例，2级及以上为100×等级
func VoteCost(brndPowerLevel int) int64 {
	switch {
	case brndPowerLevel <= 0:
		return 100
	case brndPowerLevel == 1:
		return 150
	default:
		return 100 * int64(brndPowerLevel)
	}
}

// RewardAmount 按等级计算领奖数额（整币单位），基础奖励乘等级倍数
func RewardAmount(baseReward int64, brndPowerLevel int) int64 {
	if brndPowerLevel < 1 {
		return baseReward
	}
	return baseReward * int64(brndPowerLevel)
}
