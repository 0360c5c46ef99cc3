package service

import (
	"errors"
	"strings"

	"github.com/brndland/brndvote/internal/gateway"
)

// 校验类错误: 在任何网络/链上调用之前拦截，完全可恢复，不产生状态变更
var (
	ErrInvalidSelection      = errors.New("必须选择3个互不相同的品牌")
	ErrAlreadyVoted          = errors.New("今天已经投过票了")
	ErrInsufficientBalance   = errors.New("代币余额不足，无法支付投票成本")
	ErrWalletNotConnected    = errors.New("钱包未连接，请先连接钱包")
	ErrOperationInFlight     = errors.New("上一次操作仍在进行中")
	ErrClaimNotEligible      = errors.New("当前不满足领奖条件")
	ErrClaimSignatureExpired = errors.New("领奖签名已过期，请重试")
	ErrAlreadyClaimed        = errors.New("今日奖励已领取")
)

// IsSilentCancellation 用户主动取消（钱包拒绝、发帖取消）按取消处理，不展示错误横幅
func IsSilentCancellation(err error) bool {
	return errors.Is(err, gateway.ErrCastCancelled) ||
		errors.Is(err, gateway.ErrUserRejected) ||
		gateway.IsUserRejection(err)
}

// UserMessage 把编排器错误归一为单条用户可见消息
// 领奖类失败按失败文本尽力匹配到具体提示，匹配不到时回退原始消息
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidSelection),
		errors.Is(err, ErrAlreadyVoted),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrWalletNotConnected),
		errors.Is(err, ErrOperationInFlight),
		errors.Is(err, ErrClaimNotEligible),
		errors.Is(err, ErrClaimSignatureExpired),
		errors.Is(err, ErrAlreadyClaimed):
		return err.Error()
	case errors.Is(err, gateway.ErrConfirmTimeout):
		return gateway.ErrConfirmTimeout.Error()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "expired"):
		return ErrClaimSignatureExpired.Error()
	case strings.Contains(msg, "already claimed"):
		return ErrAlreadyClaimed.Error()
	case strings.Contains(msg, "not eligible"):
		return ErrClaimNotEligible.Error()
	case strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient balance"):
		return ErrInsufficientBalance.Error()
	}

	return err.Error()
}
