// Package eth holds the Ethereum JSON-RPC methods the proxy understands.
package eth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/citizenwallet/lazynode/pkg/jsonrpc"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrMissingHexPrefix = errors.New("missing 0x prefix")
	ErrNonEmptyParams   = errors.New("params must be an empty array")
)

// NoParams is the params of a method that takes no arguments. It encodes as
// an empty array and only decodes from one.
type NoParams struct{}

func (NoParams) MarshalJSON() ([]byte, error) {
	return []byte("[]"), nil
}

func (*NoParams) UnmarshalJSON(data []byte) error {
	var params []json.RawMessage
	if err := json.Unmarshal(data, &params); err != nil {
		return ErrNonEmptyParams
	}
	if params == nil || len(params) != 0 {
		return ErrNonEmptyParams
	}
	return nil
}

// BlockNumber is eth_blockNumber.
type BlockNumber struct{}

type (
	BlockNumberRequest  = jsonrpc.Request[NoParams, uint64]
	BlockNumberResponse = jsonrpc.Response[NoParams, uint64]
)

func (BlockNumber) Name() string {
	return "eth_blockNumber"
}

func (BlockNumber) EncodeResult(block uint64) ([]byte, error) {
	return json.Marshal(hexutil.EncodeUint64(block))
}

func (BlockNumber) DecodeResult(data []byte) (uint64, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, err
	}

	return ParseQuantity(s)
}

// ParseQuantity parses a 0x prefixed hex quantity.
func ParseQuantity(s string) (uint64, error) {
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return 0, ErrMissingHexPrefix
	}

	n, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return n, nil
}

// DecodeBlockNumberRequest decodes data as an eth_blockNumber request.
func DecodeBlockNumberRequest(data []byte) (*BlockNumberRequest, error) {
	return jsonrpc.DecodeRequest[NoParams, uint64](BlockNumber{}, data)
}

// DecodeBlockNumberResponse decodes data as an eth_blockNumber response.
func DecodeBlockNumberResponse(data []byte) (*BlockNumberResponse, error) {
	return jsonrpc.DecodeResponse[NoParams, uint64](BlockNumber{}, data)
}
