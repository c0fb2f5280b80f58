package verifier

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chaincontext/teeattest/config"
	"github.com/chaincontext/teeattest/interfaces"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x93012953008ef9AbcB71F48C340166E8f384e985"

// fakeCaller answers eth_call by decoding the call with the contract ABI and
// passing the arguments to respond.
type fakeCaller struct {
	abi     abi.ABI
	to      common.Address
	respond func(method string, args []interface{}) ([]byte, error)
}

func (c *fakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (c *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.to = *call.To

	method, err := c.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	return c.respond(method.Name, args)
}

func embeddedABI(t *testing.T, name string) abi.ABI {
	t.Helper()
	parsed, err := loadABI("", name)
	require.NoError(t, err)
	return parsed
}

func TestOnchainVTPMVerifier(t *testing.T) {
	parsed := embeddedABI(t, "abi/vtpm_verifier.json")
	var got []interface{}
	caller := &fakeCaller{abi: parsed, respond: func(method string, args []interface{}) ([]byte, error) {
		got = args
		return parsed.Methods[method].Outputs.Pack(bytes.Equal(args[2].([]byte), []byte("signature")))
	}}

	v, err := NewOnchainVTPMVerifier(caller, config.ContractConfig{Address: testAddress}, time.Second)
	require.NoError(t, err)

	ok, err := v.VerifyToken(context.Background(), []byte(`{"alg":"RS256"}`), []byte(`{"iss":"test"}`), []byte("signature"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, common.HexToAddress(testAddress), caller.to)
	assert.Equal(t, []byte(`{"alg":"RS256"}`), got[0])
	assert.Equal(t, []byte(`{"iss":"test"}`), got[1])

	ok, err = v.VerifyToken(context.Background(), []byte("h"), []byte("p"), []byte("forged"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOnchainTPMVerifier(t *testing.T) {
	parsed := embeddedABI(t, "abi/tpm_verifier.json")
	var got []interface{}
	caller := &fakeCaller{abi: parsed, respond: func(method string, args []interface{}) ([]byte, error) {
		got = args
		return parsed.Methods[method].Outputs.Pack(true)
	}}

	v, err := NewOnchainTPMVerifier(caller, config.ContractConfig{Address: testAddress}, time.Second)
	require.NoError(t, err)

	dataHash := [32]byte{1, 2, 3}
	ok, err := v.VerifyQuote(context.Background(), []byte("quote"), dataHash, big.NewInt(1700000000), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, got, 4)
	assert.Equal(t, []byte("quote"), got[0])
	assert.Equal(t, dataHash, got[1])
	assert.Equal(t, 0, big.NewInt(1700000000).Cmp(got[2].(*big.Int)))
	assert.Empty(t, got[3])
}

func TestOnchainVerifier_CallError(t *testing.T) {
	parsed := embeddedABI(t, "abi/vtpm_verifier.json")
	caller := &fakeCaller{abi: parsed, respond: func(string, []interface{}) ([]byte, error) {
		return nil, errors.New("execution reverted")
	}}

	v, err := NewOnchainVTPMVerifier(caller, config.ContractConfig{Address: testAddress}, time.Second)
	require.NoError(t, err)

	_, err = v.VerifyToken(context.Background(), []byte("h"), []byte("p"), []byte("s"))
	assert.ErrorIs(t, err, interfaces.ErrContractCall)
}

// A contract call error during dispatch yields a simulated result.
func TestDispatcher_WithBoundContractError(t *testing.T) {
	parsed := embeddedABI(t, "abi/vtpm_verifier.json")
	caller := &fakeCaller{abi: parsed, respond: func(string, []interface{}) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}
	v, err := NewOnchainVTPMVerifier(caller, config.ContractConfig{Address: testAddress}, time.Second)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.SimulatedFailureRate = 0
	res := NewDispatcher(cfg, v, nil, slog.Default()).Verify(context.Background(), vtpmRecord())
	assert.True(t, res.Verified)
	assert.True(t, res.Simulated)
}

func TestNewBoundVerifier_Config(t *testing.T) {
	caller := &fakeCaller{}

	_, err := NewOnchainVTPMVerifier(caller, config.ContractConfig{Address: "not-an-address"}, time.Second)
	assert.Error(t, err)

	_, err = NewOnchainVTPMVerifier(caller, config.ContractConfig{Address: testAddress, Method: "missing"}, time.Second)
	assert.ErrorContains(t, err, "missing")

	abiPath := filepath.Join(t.TempDir(), "custom.json")
	require.NoError(t, os.WriteFile(abiPath, []byte(`[{"type":"function","name":"check","stateMutability":"view",
		"inputs":[{"name":"h","type":"bytes"},{"name":"p","type":"bytes"},{"name":"s","type":"bytes"}],
		"outputs":[{"name":"","type":"bool"}]}]`), 0600))
	v, err := NewOnchainVTPMVerifier(caller, config.ContractConfig{Address: testAddress, ABIPath: abiPath, Method: "check"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "check", v.method)

	_, err = NewOnchainVTPMVerifier(caller, config.ContractConfig{Address: testAddress, ABIPath: filepath.Join(t.TempDir(), "nope.json")}, time.Second)
	assert.Error(t, err)
}
