package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidSeed is returned when signing seed material has the wrong length.
var ErrInvalidSeed = errors.New("signing seed must be 32 bytes")

// canonicalEnc encodes signing payloads deterministically so that the
// same transaction always produces the same bytes regardless of map
// iteration order. The ledger verifies signatures against this encoding.
var canonicalEnc cbor.EncMode = mustCanonicalEncMode()

func mustCanonicalEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor canonical encode mode: %v", err))
	}
	return mode
}

// Keypair holds the ed25519 material used to sign ledger transactions.
// A single keypair is provisioned per service instance and injected into
// the Client at construction; rotation and persistence are handled
// outside this package.
type Keypair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{public: pub, private: priv}, nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSeed
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{
		public:  priv.Public().(ed25519.PublicKey),
		private: priv,
	}, nil
}

// KeypairFromSeedHex derives a keypair from a hex-encoded 32-byte seed,
// the format used for the LEDGER_SIGNING_SEED configuration value.
func KeypairFromSeedHex(s string) (*Keypair, error) {
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	return KeypairFromSeed(seed)
}

// Sign returns the ed25519 signature over the given payload bytes.
func (k *Keypair) Sign(payload []byte) []byte {
	return ed25519.Sign(k.private, payload)
}

// Verify reports whether sig is a valid signature over payload by this
// keypair's public key.
func (k *Keypair) Verify(payload, sig []byte) bool {
	return ed25519.Verify(k.public, payload, sig)
}

// PublicKeyHex returns the hex encoding of the public key, the form the
// ledger API expects in transaction envelopes.
func (k *Keypair) PublicKeyHex() string {
	return hex.EncodeToString(k.public)
}

// signingPayload is the canonical structure signed for each transaction.
// Field order here does not matter; the deterministic CBOR encoding does.
type signingPayload struct {
	Operation string             `cbor:"operation"`
	Inputs    map[string]float64 `cbor:"inputs"`
	Prediction string            `cbor:"prediction"`
	Probability float64          `cbor:"probability"`
	Timestamp string             `cbor:"timestamp"`
	PublicKey string             `cbor:"public_key"`
}

// signTransaction produces the canonical payload bytes and signature for
// a CREATE transaction over the given result.
func (k *Keypair) signTransaction(result Result, timestamp string) ([]byte, []byte, error) {
	payload := signingPayload{
		Operation:   opCreate,
		Inputs:      result.Inputs,
		Prediction:  result.Prediction,
		Probability: result.Probability,
		Timestamp:   timestamp,
		PublicKey:   k.PublicKeyHex(),
	}
	encoded, err := canonicalEnc.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode signing payload: %w", err)
	}
	return encoded, k.Sign(encoded), nil
}
