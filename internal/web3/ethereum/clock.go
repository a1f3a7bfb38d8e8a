package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to reach the EVM node whose head block supplies time.
type Config struct {
	Name   string
	RPCURL string
}

// headerReader mirrors the subset of ethclient used to read the chain head.
type headerReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
}

// BlockClock implements web3.Clock using the timestamp of the latest block.
type BlockClock struct {
	name      string
	rpcClient *gethrpc.Client
	headers   headerReader
	mu        sync.Mutex
	closed    bool
}

// NewBlockClock dials the configured RPC endpoint.
func NewBlockClock(ctx context.Context, cfg Config) (*BlockClock, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	return &BlockClock{
		name:      cfg.Name,
		rpcClient: rpcClient,
		headers:   ethclient.NewClient(rpcClient),
	}, nil
}

// newBlockClockWithReader wires an arbitrary header source, used by tests.
func newBlockClockWithReader(name string, headers headerReader) *BlockClock {
	return &BlockClock{name: name, headers: headers}
}

// Name returns the configured chain name.
func (c *BlockClock) Name() string { return c.name }

// Now returns the latest block timestamp.
func (c *BlockClock) Now(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, errors.New("区块时钟已关闭")
	}

	header, err := c.headers.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("读取最新区块头失败: %w", err)
	}
	if header == nil {
		return 0, errors.New("节点返回了空区块头")
	}
	return header.Time, nil
}

// Close releases the RPC connection.
func (c *BlockClock) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}
