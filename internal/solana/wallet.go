package solana

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	bin "github.com/gagliardetto/binary"
	sol "github.com/gagliardetto/solana-go"
)

// ---------------------------------------------------------------------------
// Wallet: signs serialized swap transactions
// ---------------------------------------------------------------------------

// Signer signs a serialized transaction and reports its fee-payer signature.
type Signer interface {
	PublicKey() Pubkey
	SignTransaction(txBase64 string) (signed string, sig Signature, err error)
}

// Wallet holds the trading keypair.
type Wallet struct {
	key sol.PrivateKey
	pub sol.PublicKey
}

// LoadWallet parses a secret key given either as base58 or as a JSON byte
// array (the solana-keygen file format). A value that names an existing file
// is read from disk first.
func LoadWallet(secret string) (*Wallet, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("wallet: empty private key")
	}

	if data, err := os.ReadFile(secret); err == nil {
		secret = strings.TrimSpace(string(data))
	}

	var key sol.PrivateKey
	if strings.HasPrefix(secret, "[") {
		var raw []int
		if err := json.Unmarshal([]byte(secret), &raw); err != nil {
			return nil, fmt.Errorf("wallet: parse key array: %w", err)
		}
		key = make(sol.PrivateKey, len(raw))
		for i, b := range raw {
			if b < 0 || b > 255 {
				return nil, fmt.Errorf("wallet: key byte %d out of range", i)
			}
			key[i] = byte(b)
		}
	} else {
		k, err := sol.PrivateKeyFromBase58(secret)
		if err != nil {
			return nil, fmt.Errorf("wallet: parse base58 key: %w", err)
		}
		key = k
	}

	if len(key) != 64 {
		return nil, fmt.Errorf("wallet: private key must be 64 bytes, got %d", len(key))
	}

	return &Wallet{key: key, pub: key.PublicKey()}, nil
}

// PublicKey returns the wallet address.
func (w *Wallet) PublicKey() Pubkey {
	return Pubkey(w.pub.String())
}

// SignTransaction decodes a base64 transaction, fills in the wallet's
// signature slot, and re-encodes it.
func (w *Wallet) SignTransaction(txBase64 string) (string, Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", "", fmt.Errorf("wallet: decode transaction: %w", err)
	}

	tx, err := sol.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", "", fmt.Errorf("wallet: parse transaction: %w", err)
	}

	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	slot := -1
	for i := 0; i < numSigners && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(w.pub) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return "", "", fmt.Errorf("wallet: %s is not a signer of this transaction", w.pub)
	}

	payload, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", "", fmt.Errorf("wallet: marshal message: %w", err)
	}
	sig, err := w.key.Sign(payload)
	if err != nil {
		return "", "", fmt.Errorf("wallet: sign: %w", err)
	}

	// Aggregator transactions arrive with zeroed placeholder signatures.
	for len(tx.Signatures) < numSigners {
		tx.Signatures = append(tx.Signatures, sol.Signature{})
	}
	tx.Signatures[slot] = sig

	out, err := tx.MarshalBinary()
	if err != nil {
		return "", "", fmt.Errorf("wallet: marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), Signature(sig.String()), nil
}
