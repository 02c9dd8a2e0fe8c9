// Package onchain 链上能力实现：ERC20 代币、Compound 家族借贷市场
// （LendHub 形制的 cToken + comptroller）、UniswapV2 家族路由器。
// 各自实现 internal/token 与 internal/market 定义的能力接口。
package onchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "onchain")

// txPollInterval 回执轮询间隔。
const txPollInterval = 2 * time.Second

// Sender 统一的合约调用/交易发送器。
type Sender struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
	from       common.Address
}

// NewSender 连接 RPC 节点并构造发送器。
func NewSender(rpcURL string, chainID int64, privateKey *ecdsa.PrivateKey) (*Sender, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}
	return &Sender{
		client:     client,
		privateKey: privateKey,
		chainID:    big.NewInt(chainID),
		from:       crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// From 签名者地址。
func (s *Sender) From() common.Address { return s.from }

// Call 只读合约调用并解包结果。
func (s *Sender) Call(ctx context.Context, to common.Address, contractABI abi.ABI, out interface{}, method string, args ...interface{}) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("打包%s参数失败: %w", method, err)
	}
	result, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("调用%s失败: %w", method, err)
	}
	if out == nil {
		return nil
	}
	if err := contractABI.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("解析%s结果失败: %w", method, err)
	}
	return nil
}

// Transact 打包、签名并发送交易，等待上链后检查回执状态。
func (s *Sender) Transact(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) error {
	return s.TransactValue(ctx, to, big.NewInt(0), contractABI, method, args...)
}

// TransactValue 同 Transact，随交易附带原生资产 value。
func (s *Sender) TransactValue(ctx context.Context, to common.Address, value *big.Int, contractABI abi.ABI, method string, args ...interface{}) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("打包%s参数失败: %w", method, err)
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return fmt.Errorf("获取nonce失败: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("获取gas价格失败: %w", err)
	}
	gasLimit, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: s.from, To: &to, Data: data, Value: value, GasPrice: gasPrice,
	})
	if err != nil {
		return fmt.Errorf("估算gas失败: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit*12/10, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(s.chainID), s.privateKey)
	if err != nil {
		return fmt.Errorf("签名交易失败: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return fmt.Errorf("发送交易失败: %w", err)
	}
	log.Debugf("交易已发送: method=%s tx=%s", method, signedTx.Hash().Hex())

	receipt, err := s.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("交易执行失败: method=%s tx=%s", method, signedTx.Hash().Hex())
	}
	return nil
}

func (s *Sender) waitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("查询回执失败: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(txPollInterval):
		}
	}
}
