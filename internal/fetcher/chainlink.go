package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricehub/internal/market"
)

const aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorV3ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// Ethereum mainnet USD price feeds.
var chainlinkUSDFeeds = map[string]string{
	"BTC":  "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c",
	"ETH":  "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
	"LINK": "0x2c1d072e956AFFC0D435Cb7AC38EF18d24d9127c",
}

// ContractCaller is the read-only slice of an Ethereum client the adapter needs.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkOptions parameterise the on-chain adapter.
type ChainlinkOptions struct {
	RPCURL  string
	Timeout time.Duration
	// Feeds overrides the built-in symbol→aggregator table.
	Feeds map[string]string
}

// Chainlink reads USD prices from on-chain aggregator contracts.
type Chainlink struct {
	opts      ChainlinkOptions
	feeds     map[string]common.Address
	now       func() time.Time
	logger    zerolog.Logger
	caller    ContractCaller
	clientMux sync.Mutex
}

// NewChainlink builds the adapter. It stays inert until an RPC URL is configured.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	table := opts.Feeds
	if table == nil {
		table = chainlinkUSDFeeds
	}
	feeds := make(map[string]common.Address, len(table))
	for symbol, addr := range table {
		feeds[strings.ToUpper(symbol)] = common.HexToAddress(addr)
	}
	return &Chainlink{
		opts:   opts,
		feeds:  feeds,
		now:    time.Now,
		logger: logger.With().Str("component", "chainlink").Logger(),
	}
}

// Name identifies the adapter.
func (c *Chainlink) Name() string { return market.SourceChainlink }

// Enabled reports whether the adapter can reach a node.
func (c *Chainlink) Enabled() bool {
	if c.opts.RPCURL != "" {
		return true
	}
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	return c.caller != nil
}

// FetchCryptoPrice answers USD quotes for symbols with a known feed.
func (c *Chainlink) FetchCryptoPrice(ctx context.Context, symbol, currency string) (market.CryptoQuote, bool) {
	if !strings.EqualFold(currency, "USD") || !c.Enabled() {
		return market.CryptoQuote{}, false
	}
	feed, ok := c.feeds[strings.ToUpper(symbol)]
	if !ok {
		return market.CryptoQuote{}, false
	}

	price, updatedAt, err := c.latestAnswer(ctx, feed)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Str("feed", feed.Hex()).Msg("read aggregator failed")
		return market.CryptoQuote{}, false
	}
	if !price.IsPositive() {
		return market.CryptoQuote{}, false
	}

	c.logger.Debug().Str("symbol", symbol).Time("updated_at", updatedAt).Msg("aggregator answer")
	return market.CryptoQuote{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Currency:  "USD",
		Source:    c.Name(),
		Timestamp: c.now().UTC(),
	}, true
}

func (c *Chainlink) latestAnswer(ctx context.Context, feed common.Address) (decimal.Decimal, time.Time, error) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := c.getCaller(ctx)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	decimalsOut, err := c.call(ctx, caller, feed, "decimals")
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	scale, ok := decimalsOut[0].(uint8)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode decimals output")
	}

	roundOut, err := c.call(ctx, caller, feed, "latestRoundData")
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	if len(roundOut) != 5 {
		return decimal.Decimal{}, time.Time{}, errors.New("unexpected latestRoundData response")
	}
	answer, ok := roundOut[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode answer")
	}
	updated, ok := roundOut[3].(*big.Int)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode updatedAt")
	}

	return decimal.NewFromBigInt(answer, -int32(scale)), time.Unix(updated.Int64(), 0).UTC(), nil
}

func (c *Chainlink) call(ctx context.Context, caller ContractCaller, feed common.Address, method string) ([]any, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	outputs, err := aggregatorV3ABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("empty %s response", method)
	}
	return outputs, nil
}

func (c *Chainlink) getCaller(ctx context.Context) (ContractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ CryptoPriceFetcher = (*Chainlink)(nil)
