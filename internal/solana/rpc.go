package solana

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface for Solana RPC interactions.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetTokenBalance returns the owner's total balance of an SPL mint.
	GetTokenBalance(ctx context.Context, owner, mint Pubkey) (TokenBalance, error)

	// GetMintDecimals returns the decimal precision of an SPL mint.
	GetMintDecimals(ctx context.Context, mint Pubkey) (uint8, error)

	// SendTransaction submits a signed, base64-encoded transaction.
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)

	// GetTransactionStatus checks the confirmation state of a signature.
	GetTransactionStatus(ctx context.Context, sig Signature) (TxStatus, error)

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`    // e.g. https://api.mainnet-beta.solana.com
	WSEndpoint   string        `yaml:"ws_endpoint"` // e.g. wss://api.mainnet-beta.solana.com
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and dry runs)
// ---------------------------------------------------------------------------

// StubRPCClient is an in-memory RPC client.
type StubRPCClient struct {
	mu       sync.Mutex
	balances map[Pubkey]TokenBalance
	decimals map[Pubkey]uint8
	statuses map[Signature][]TxStatus // scripted status sequence per signature
	status   TxStatus                 // default status for unscripted signatures
	sent     []string
	sendErr  error
	failNext bool
	seq      int
}

// NewStubRPCClient creates a stub RPC client that confirms every transaction.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		balances: make(map[Pubkey]TokenBalance),
		decimals: make(map[Pubkey]uint8),
		statuses: make(map[Signature][]TxStatus),
		status:   TxConfirmed,
	}
}

// SetBalance registers the wallet's holding of a mint.
func (s *StubRPCClient) SetBalance(bal TokenBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[bal.Mint] = bal
}

// SetDecimals registers a mint's precision. Unregistered mints report 6.
func (s *StubRPCClient) SetDecimals(mint Pubkey, decimals uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decimals[mint] = decimals
}

// SetDefaultStatus sets the status returned for signatures without a script.
func (s *StubRPCClient) SetDefaultStatus(status TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// ScriptStatus queues statuses returned for sig, one per call. The last one repeats.
func (s *StubRPCClient) ScriptStatus(sig Signature, statuses ...TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sig] = statuses
}

// SetSendError makes every SendTransaction fail with err (nil clears it).
func (s *StubRPCClient) SetSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// SetFailNext makes the next call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Sent returns the submitted transactions in order.
func (s *StubRPCClient) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *StubRPCClient) shouldFail() bool {
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubRPCClient) GetTokenBalance(_ context.Context, _ Pubkey, mint Pubkey) (TokenBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail() {
		return TokenBalance{}, fmt.Errorf("stub: simulated RPC failure")
	}
	bal, ok := s.balances[mint]
	if !ok {
		return TokenBalance{Mint: mint}, nil
	}
	return bal, nil
}

func (s *StubRPCClient) GetMintDecimals(_ context.Context, mint Pubkey) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail() {
		return 0, fmt.Errorf("stub: simulated RPC failure")
	}
	if mint == SOLMint {
		return SOLDecimals, nil
	}
	if d, ok := s.decimals[mint]; ok {
		return d, nil
	}
	return 6, nil
}

func (s *StubRPCClient) SendTransaction(_ context.Context, txBase64 string) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sent = append(s.sent, txBase64)
	s.seq++
	return Signature(fmt.Sprintf("stub-sig-%d", s.seq)), nil
}

func (s *StubRPCClient) GetTransactionStatus(_ context.Context, sig Signature) (TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	script, ok := s.statuses[sig]
	if !ok || len(script) == 0 {
		return s.status, nil
	}
	status := script[0]
	if len(script) > 1 {
		s.statuses[sig] = script[1:]
	}
	return status, nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}
