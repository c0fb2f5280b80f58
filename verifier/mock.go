package verifier

import (
	"context"
	"math/big"

	"github.com/stretchr/testify/mock"
)

// MockVTPMVerifier mocks the interfaces.VTPMVerifierContract interface
type MockVTPMVerifier struct {
	mock.Mock
}

// VerifyToken mocks the VerifyToken method
func (m *MockVTPMVerifier) VerifyToken(ctx context.Context, header, payload, signature []byte) (bool, error) {
	args := m.Called(ctx, header, payload, signature)
	return args.Bool(0), args.Error(1)
}

// MockTPMVerifier mocks the interfaces.TPMVerifierContract interface
type MockTPMVerifier struct {
	mock.Mock
}

// VerifyQuote mocks the VerifyQuote method
func (m *MockTPMVerifier) VerifyQuote(ctx context.Context, quote []byte, dataHash [32]byte, timestamp *big.Int, signature []byte) (bool, error) {
	args := m.Called(ctx, quote, dataHash, timestamp, signature)
	return args.Bool(0), args.Error(1)
}
