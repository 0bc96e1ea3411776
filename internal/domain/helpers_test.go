package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/totegamma/eventchain"
)

var (
	aliceAccount = eventchain.AccountFromSeed([]byte("alice"))
	bobAccount   = eventchain.AccountFromSeed([]byte("bob"))
	nodeAccount  = eventchain.AccountFromSeed([]byte("node"))
)

const testTimestamp = 1519862400

func newTestChain(t *testing.T, genesis *eventchain.Account) *EventChain {
	t.Helper()
	id, err := eventchain.CreateChainID(genesis.PublicKeyBytes(), []byte("nonce"))
	require.NoError(t, err)
	return NewEventChain(id)
}

func signEvent(t *testing.T, signer Signer, previous string, body map[string]any) *Event {
	t.Helper()
	encoded, err := EncodeBody(body)
	require.NoError(t, err)
	return Draft{
		Origin:    "localhost",
		Body:      encoded,
		Timestamp: testTimestamp,
		Previous:  previous,
	}.Sign(signer)
}

func identityBody(id string, account *eventchain.Account, node string) map[string]any {
	return map[string]any{
		"$schema": IdentitySchema,
		"id":      id,
		"node":    node,
		"signkeys": map[string]any{
			"default": account.PublicSignKey(),
			"user":    account.PublicSignKey(),
			"system":  nodeAccount.PublicSignKey(),
		},
	}
}

func commentBody(text string) map[string]any {
	return map[string]any{
		"$schema": CommentSchema,
		"comment": text,
	}
}
