package eventchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/cosmos/btcutil/base58"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the bech32 human readable part of node addresses.
const AddressPrefix = "ecn"

// Account is an ed25519 key pair used to sign events and requests.
type Account struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
}

// NewAccount generates a random account.
func NewAccount() (*Account, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Account{privKey: priv, pubKey: pub}, nil
}

// AccountFromSeed derives the key pair from the SHA-256 digest of seed.
func AccountFromSeed(seed []byte) *Account {
	digest := sha256.Sum256(seed)
	priv := ed25519.NewKeyFromSeed(digest[:])
	return &Account{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
	}
}

// AccountFromSecretKey loads a base58 encoded 64 byte ed25519 secret key.
func AccountFromSecretKey(secret string) (*Account, error) {
	raw := base58.Decode(secret)
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid secret key size: %d", len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	return &Account{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// PublicSignKey returns the base58 encoded public key.
func (a *Account) PublicSignKey() string {
	return base58.Encode(a.pubKey)
}

func (a *Account) PublicKeyBytes() []byte {
	return a.pubKey
}

// Sign produces a detached signature over message.
func (a *Account) Sign(message []byte) []byte {
	return ed25519.Sign(a.privKey, message)
}

// Address returns the bech32 address of the account.
func (a *Account) Address() (string, error) {
	return PubKeyToAddr(a.pubKey, AddressPrefix)
}

// PubKeyToAddr encodes the last 20 bytes of the keccak digest of pubkey with the given prefix.
func PubKeyToAddr(pubkey []byte, hrp string) (string, error) {
	hash := crypto.Keccak256(pubkey)
	addr, err := bech32.ConvertAndEncode(hrp, hash[len(hash)-20:])
	if err != nil {
		return "", err
	}
	return addr, nil
}

// SeedToAddr derives the address for a base58 encoded account seed.
func SeedToAddr(seed string, hrp string) (string, error) {
	raw := base58.Decode(seed)
	if len(raw) == 0 {
		return "", fmt.Errorf("invalid seed")
	}
	return PubKeyToAddr(AccountFromSeed(raw).pubKey, hrp)
}

// VerifySignature checks a base58 encoded signature made with a base58 encoded public key.
// Malformed input yields false.
func VerifySignature(signkey, signature string, message []byte) bool {
	if signkey == "" || signature == "" {
		return false
	}

	key := base58.Decode(signkey)
	sig := base58.Decode(signature)

	if len(key) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(key), message, sig)
}

// GetHash returns the raw SHA-256 digest of data.
func GetHash(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// HashBase58 returns the base58 encoded SHA-256 digest of data.
func HashBase58(data []byte) string {
	return base58.Encode(GetHash(data))
}

func Base58Encode(data []byte) string {
	return base58.Encode(data)
}

// Base58Decode decodes s, returning nil for empty or invalid input.
func Base58Decode(s string) []byte {
	if s == "" {
		return nil
	}
	decoded := base58.Decode(s)
	if len(decoded) == 0 {
		return nil
	}
	return decoded
}
