package verifier

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/chaincontext/teeattest/config"
	"github.com/chaincontext/teeattest/interfaces"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/*.json
var abiFiles embed.FS

const (
	defaultVTPMMethod = "verifyAndAttest"
	defaultTPMMethod  = "verifyAttestation"
)

// loadABI reads the ABI override at path, or the embedded ABI.
func loadABI(path, embedded string) (abi.ABI, error) {
	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = abiFiles.ReadFile(embedded)
	}
	if err != nil {
		return abi.ABI{}, fmt.Errorf("could not read contract ABI: %w", err)
	}

	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("could not parse contract ABI: %w", err)
	}
	return parsed, nil
}

// boundVerifier is a read-only binding of one boolean verifier method.
type boundVerifier struct {
	contract *bind.BoundContract
	address  common.Address
	method   string
	timeout  time.Duration
}

func newBoundVerifier(caller bind.ContractCaller, cc config.ContractConfig, embedded, defaultMethod string, timeout time.Duration) (*boundVerifier, error) {
	if !common.IsHexAddress(cc.Address) {
		return nil, fmt.Errorf("invalid contract address %q", cc.Address)
	}

	parsed, err := loadABI(cc.ABIPath, embedded)
	if err != nil {
		return nil, err
	}

	method := cc.Method
	if method == "" {
		method = defaultMethod
	}
	if _, ok := parsed.Methods[method]; !ok {
		return nil, fmt.Errorf("method %s not found in contract ABI", method)
	}

	address := common.HexToAddress(cc.Address)
	return &boundVerifier{
		contract: bind.NewBoundContract(address, parsed, caller, nil, nil),
		address:  address,
		method:   method,
		timeout:  timeout,
	}, nil
}

func (v *boundVerifier) call(ctx context.Context, params ...interface{}) (bool, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	var out []interface{}
	if err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, v.method, params...); err != nil {
		return false, fmt.Errorf("%w: %s at %s: %v", interfaces.ErrContractCall, v.method, v.address.Hex(), err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("%w: %s returned %d values", interfaces.ErrContractCall, v.method, len(out))
	}

	verified, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s returned %T, expected bool", interfaces.ErrContractCall, v.method, out[0])
	}
	return verified, nil
}

// OnchainVTPMVerifier calls the vTPM verifier contract.
type OnchainVTPMVerifier struct {
	*boundVerifier
}

func NewOnchainVTPMVerifier(caller bind.ContractCaller, cc config.ContractConfig, timeout time.Duration) (*OnchainVTPMVerifier, error) {
	v, err := newBoundVerifier(caller, cc, "abi/vtpm_verifier.json", defaultVTPMMethod, timeout)
	if err != nil {
		return nil, err
	}
	return &OnchainVTPMVerifier{v}, nil
}

// VerifyToken submits the decoded token segments.
func (v *OnchainVTPMVerifier) VerifyToken(ctx context.Context, header, payload, signature []byte) (bool, error) {
	return v.call(ctx, header, payload, signature)
}

// OnchainTPMVerifier calls the TPM quote verifier contract.
type OnchainTPMVerifier struct {
	*boundVerifier
}

func NewOnchainTPMVerifier(caller bind.ContractCaller, cc config.ContractConfig, timeout time.Duration) (*OnchainTPMVerifier, error) {
	v, err := newBoundVerifier(caller, cc, "abi/tpm_verifier.json", defaultTPMMethod, timeout)
	if err != nil {
		return nil, err
	}
	return &OnchainTPMVerifier{v}, nil
}

// VerifyQuote submits a quote bound to dataHash at timestamp.
func (v *OnchainTPMVerifier) VerifyQuote(ctx context.Context, quote []byte, dataHash [32]byte, timestamp *big.Int, signature []byte) (bool, error) {
	if signature == nil {
		signature = []byte{}
	}
	return v.call(ctx, quote, dataHash, timestamp, signature)
}
