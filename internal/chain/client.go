// Package chain reads certificate records from the on-chain certificate registry.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// registryABI covers the single read the verifier needs.
const registryABI = `[{"inputs":[{"internalType":"bytes32","name":"certHash","type":"bytes32"}],"name":"verifyCertificate","outputs":[{"internalType":"string","name":"studentName","type":"string"},{"internalType":"string","name":"courseName","type":"string"},{"internalType":"uint256","name":"issueDate","type":"uint256"},{"internalType":"address","name":"issuer","type":"address"},{"internalType":"string","name":"universityName","type":"string"},{"internalType":"string","name":"universityDomain","type":"string"},{"internalType":"bool","name":"isRevoked","type":"bool"},{"internalType":"bool","name":"isValid","type":"bool"}],"stateMutability":"view","type":"function"}]`

var hashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ErrMalformedHash is returned for content hashes that are not 0x-prefixed 32-byte hex.
var ErrMalformedHash = errors.New("chain: content hash is not 32-byte hex")

// Record is the registry's view of a certificate.
type Record struct {
	StudentName      string
	CourseName       string
	IssuedAt         *big.Int
	IssuerWallet     string
	UniversityName   string
	UniversityDomain string
	Revoked          bool
	Valid            bool
}

// Caller is the contract binding used by Client; bind.BoundContract satisfies it.
type Caller interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
}

// Client calls verifyCertificate on the registry contract.
type Client struct {
	contract Caller
	closer   func()
}

// Dial connects to an Ethereum JSON-RPC endpoint and binds the registry at address.
func Dial(ctx context.Context, rpcURL, address string) (*Client, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("chain: invalid contract address %q", address)
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	contract := bind.NewBoundContract(common.HexToAddress(address), parsed, ec, ec, ec)
	return &Client{contract: contract, closer: ec.Close}, nil
}

// NewWithCaller builds a client over an existing binding.
func NewWithCaller(c Caller) *Client {
	return &Client{contract: c}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// VerifyCertificate looks up a certificate by its 0x-prefixed content hash.
func (c *Client) VerifyCertificate(ctx context.Context, hashHex string) (Record, error) {
	if !hashPattern.MatchString(hashHex) {
		return Record{}, fmt.Errorf("%w: %q", ErrMalformedHash, hashHex)
	}
	var key [32]byte
	copy(key[:], common.FromHex(hashHex))

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "verifyCertificate", key); err != nil {
		return Record{}, fmt.Errorf("chain: verifyCertificate: %w", err)
	}
	return decodeRecord(out)
}

// decodeRecord maps the ordered return tuple; index 7 is the validity flag.
func decodeRecord(out []interface{}) (Record, error) {
	if len(out) != 8 {
		return Record{}, fmt.Errorf("chain: expected 8 return values, got %d", len(out))
	}
	var rec Record
	var ok [8]bool
	rec.StudentName, ok[0] = out[0].(string)
	rec.CourseName, ok[1] = out[1].(string)
	rec.IssuedAt, ok[2] = out[2].(*big.Int)
	var issuer common.Address
	issuer, ok[3] = out[3].(common.Address)
	rec.UniversityName, ok[4] = out[4].(string)
	rec.UniversityDomain, ok[5] = out[5].(string)
	rec.Revoked, ok[6] = out[6].(bool)
	rec.Valid, ok[7] = out[7].(bool)
	for i, good := range ok {
		if !good {
			return Record{}, fmt.Errorf("chain: return value %d has unexpected type %T", i, out[i])
		}
	}
	if issuer != (common.Address{}) {
		rec.IssuerWallet = issuer.Hex()
	}
	return rec, nil
}
