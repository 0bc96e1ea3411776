package eventchain

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountFromSeed(t *testing.T) {
	a := AccountFromSeed([]byte("seed"))
	b := AccountFromSeed([]byte("seed"))
	c := AccountFromSeed([]byte("other"))

	assert.Equal(t, a.PublicSignKey(), b.PublicSignKey())
	assert.NotEqual(t, a.PublicSignKey(), c.PublicSignKey())
	assert.Len(t, a.PublicKeyBytes(), 32)
}

func TestSignAndVerify(t *testing.T) {
	account := AccountFromSeed([]byte("seed"))
	message := []byte("hello")

	signature := Base58Encode(account.Sign(message))
	assert.True(t, VerifySignature(account.PublicSignKey(), signature, message))
	assert.False(t, VerifySignature(account.PublicSignKey(), signature, []byte("bye")))
	assert.False(t, VerifySignature(AccountFromSeed([]byte("x")).PublicSignKey(), signature, message))
	assert.False(t, VerifySignature("", signature, message))
	assert.False(t, VerifySignature(account.PublicSignKey(), "abc", message))
}

func TestAccountFromSecretKey(t *testing.T) {
	account, err := NewAccount()
	require.NoError(t, err)

	loaded, err := AccountFromSecretKey(Base58Encode(account.privKey))
	require.NoError(t, err)
	assert.Equal(t, account.PublicSignKey(), loaded.PublicSignKey())

	_, err = AccountFromSecretKey("abc")
	assert.Error(t, err)
}

func TestAddress(t *testing.T) {
	account := AccountFromSeed([]byte("seed"))

	address, err := account.Address()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(address, AddressPrefix+"1"))

	fromSeed, err := SeedToAddr(Base58Encode([]byte("seed")), AddressPrefix)
	require.NoError(t, err)
	assert.Equal(t, address, fromSeed)
}

func TestHash(t *testing.T) {
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hex.EncodeToString(GetHash([]byte("hello"))))
	assert.Equal(t, Base58Encode(GetHash([]byte("hello"))), HashBase58([]byte("hello")))
	assert.Nil(t, Base58Decode(""))
	assert.Nil(t, Base58Decode("0OIl"))
}
