package gateway

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/model"
	"github.com/brndland/brndvote/internal/retry"
)

// ErrUserRejected 用户在钱包中拒绝了交易，按取消处理而非失败
var ErrUserRejected = errors.New("用户拒绝了交易")

// ErrConfirmTimeout 链上确认等待超时，交易可能仍在打包，提示用户到浏览器查看
var ErrConfirmTimeout = errors.New("交易确认超时，请稍后在区块浏览器查看状态")

// ClaimRequest 领奖交易参数
type ClaimRequest struct {
	Recipient string
	Amount    *big.Int
	FID       int64
	Day       int64
	CastHash  string
	Deadline  int64
	Signature string
}

// Chain 链上交易网关，包装钱包的提交/确认/读取能力
type Chain interface {
	// Connected 钱包是否已连接（已配置签名密钥）
	Connected() bool

	// WalletAddress 当前钱包地址
	WalletAddress() string

	// EnsureNetwork 校验节点链ID与指定链一致
	EnsureNetwork(ctx context.Context) error

	// BalanceOf 读取代币余额（最小单位）
	BalanceOf(ctx context.Context, owner string) (*big.Int, error)

	// Allowance 读取投票合约的代币授权额度（最小单位）
	Allowance(ctx context.Context, owner string) (*big.Int, error)

	// Approve 提交代币授权交易
	Approve(ctx context.Context, amount *big.Int) (string, error)

	// HasVotedToday 链上读取当日是否已投票
	HasVotedToday(ctx context.Context, owner string, day int64) (bool, error)

	// Vote 提交投票交易，授权负载内联，授权与投票是同一笔交易
	Vote(ctx context.Context, brandIDs []uint64, auth *model.AuthPayload) (string, error)

	// ClaimReward 提交领奖交易
	ClaimReward(ctx context.Context, req *ClaimRequest) (string, error)

	// AwaitConfirmation 等待交易确认，有客户端侧超时上限
	AwaitConfirmation(ctx context.Context, txHash string) error
}

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]}
]`

const voteABI = `[
	{"name":"vote","type":"function","inputs":[{"name":"brandIds","type":"uint256[3]"},{"name":"wallet","type":"address"},{"name":"deadline","type":"uint256"},{"name":"signature","type":"bytes"}],"outputs":[]},
	{"name":"claimReward","type":"function","inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"},{"name":"fid","type":"uint256"},{"name":"day","type":"uint256"},{"name":"castHash","type":"bytes32"},{"name":"deadline","type":"uint256"},{"name":"signature","type":"bytes"}],"outputs":[]},
	{"name":"hasVoted","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"day","type":"uint256"}],"outputs":[{"type":"bool"}]}
]`

// EthereumGateway 基于go-ethereum的链上网关实现
type EthereumGateway struct {
	client       *ethclient.Client
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	tokenAddress common.Address
	voteAddress  common.Address
	tokenABI     abi.ABI
	voteContract abi.ABI
}

func NewEthereumGateway() (*EthereumGateway, error) {
	cfg := config.AppConfig.Chain

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}

	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析代币ABI失败: %w", err)
	}
	voteContract, err := abi.JSON(strings.NewReader(voteABI))
	if err != nil {
		return nil, fmt.Errorf("解析投票合约ABI失败: %w", err)
	}

	g := &EthereumGateway{
		client:       client,
		chainID:      big.NewInt(cfg.ChainID),
		tokenAddress: common.HexToAddress(cfg.TokenAddress),
		voteAddress:  common.HexToAddress(cfg.VoteAddress),
		tokenABI:     tokenABI,
		voteContract: voteContract,
	}

	// 未配置密钥时以未连接钱包模式运行，读操作仍可用
	if cfg.WalletKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.WalletKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("解析钱包私钥失败: %w", err)
		}
		g.key = key
		g.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return g, nil
}

func (g *EthereumGateway) Connected() bool {
	return g.key != nil
}

func (g *EthereumGateway) WalletAddress() string {
	if g.key == nil {
		return ""
	}
	return g.from.Hex()
}

func (g *EthereumGateway) EnsureNetwork(ctx context.Context) error {
	chainID, err := g.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("读取节点链ID失败: %w", err)
	}
	if chainID.Cmp(g.chainID) != 0 {
		return fmt.Errorf("节点链ID不匹配: 期望%s, 实际%s，请切换网络", g.chainID, chainID)
	}
	return nil
}

func (g *EthereumGateway) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	data, err := g.tokenABI.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("编码balanceOf调用失败: %w", err)
	}
	out, err := g.call(ctx, g.tokenAddress, data)
	if err != nil {
		return nil, fmt.Errorf("读取代币余额失败: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

func (g *EthereumGateway) Allowance(ctx context.Context, owner string) (*big.Int, error) {
	data, err := g.tokenABI.Pack("allowance", common.HexToAddress(owner), g.voteAddress)
	if err != nil {
		return nil, fmt.Errorf("编码allowance调用失败: %w", err)
	}
	out, err := g.call(ctx, g.tokenAddress, data)
	if err != nil {
		return nil, fmt.Errorf("读取授权额度失败: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

func (g *EthereumGateway) Approve(ctx context.Context, amount *big.Int) (string, error) {
	data, err := g.tokenABI.Pack("approve", g.voteAddress, amount)
	if err != nil {
		return "", fmt.Errorf("编码approve调用失败: %w", err)
	}
	return g.send(ctx, g.tokenAddress, data)
}

func (g *EthereumGateway) HasVotedToday(ctx context.Context, owner string, day int64) (bool, error) {
	data, err := g.voteContract.Pack("hasVoted", common.HexToAddress(owner), big.NewInt(day))
	if err != nil {
		return false, fmt.Errorf("编码hasVoted调用失败: %w", err)
	}
	out, err := g.call(ctx, g.voteAddress, data)
	if err != nil {
		return false, fmt.Errorf("读取当日投票状态失败: %w", err)
	}
	return len(out) > 0 && out[len(out)-1] == 1, nil
}

func (g *EthereumGateway) Vote(ctx context.Context, brandIDs []uint64, auth *model.AuthPayload) (string, error) {
	if len(brandIDs) != 3 {
		return "", fmt.Errorf("投票品牌数量必须为3，实际%d", len(brandIDs))
	}
	var ids [3]*big.Int
	for i, id := range brandIDs {
		ids[i] = new(big.Int).SetUint64(id)
	}

	data, err := g.voteContract.Pack("vote",
		ids,
		common.HexToAddress(auth.WalletAddress),
		big.NewInt(auth.Deadline),
		common.FromHex(auth.Signature),
	)
	if err != nil {
		return "", fmt.Errorf("编码vote调用失败: %w", err)
	}
	return g.send(ctx, g.voteAddress, data)
}

func (g *EthereumGateway) ClaimReward(ctx context.Context, req *ClaimRequest) (string, error) {
	data, err := g.voteContract.Pack("claimReward",
		common.HexToAddress(req.Recipient),
		req.Amount,
		big.NewInt(req.FID),
		big.NewInt(req.Day),
		common.HexToHash(req.CastHash),
		big.NewInt(req.Deadline),
		common.FromHex(req.Signature),
	)
	if err != nil {
		return "", fmt.Errorf("编码claimReward调用失败: %w", err)
	}
	return g.send(ctx, g.voteAddress, data)
}

// AwaitConfirmation 轮询回执直到确认，超出confirm_timeout返回ErrConfirmTimeout
func (g *EthereumGateway) AwaitConfirmation(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)

	var receipt *types.Receipt
	err := retry.Until(ctx, retry.Schedule{
		Interval:   2 * time.Second,
		MaxElapsed: config.AppConfig.Chain.ConfirmTimeout,
	}, func(ctx context.Context, attempt int) (bool, error) {
		r, err := g.client.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return false, nil
			}
			return false, fmt.Errorf("查询交易回执失败: %w", err)
		}
		receipt = r
		return true, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return ErrConfirmTimeout
		}
		return err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("交易 %s 执行回滚", txHash)
	}
	return nil
}

// call 只读合约调用
func (g *EthereumGateway) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// send 签名并发送合约交易，返回交易哈希
func (g *EthereumGateway) send(ctx context.Context, to common.Address, data []byte) (string, error) {
	if g.key == nil {
		return "", fmt.Errorf("钱包未连接")
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.from)
	if err != nil {
		return "", fmt.Errorf("获取nonce失败: %w", err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("获取gas价格失败: %w", err)
	}
	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From: g.from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("预估gas失败: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(g.chainID), g.key)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("发送交易失败: %w", err)
	}

	return signed.Hash().Hex(), nil
}

// BaseUnits 把整币数额换算为代币最小单位
func BaseUnits(whole int64, decimals int) *big.Int {
	amount := big.NewInt(whole)
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return amount.Mul(amount, exp)
}

// IsUserRejection 判断错误是否为钱包侧用户拒绝
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied")
}
