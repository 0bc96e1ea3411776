package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/internal/domain"
)

var (
	aliceAccount = eventchain.AccountFromSeed([]byte("alice"))
	bobAccount   = eventchain.AccountFromSeed([]byte("bob"))
	nodeAccount  = eventchain.AccountFromSeed([]byte("node"))
	otherNode    = eventchain.AccountFromSeed([]byte("other node"))
)

const testTimestamp = 1519862400

// --- mocks ---

type mockStorage struct {
	mu        sync.Mutex
	stored    []domain.Resource
	grouped   []domain.Resource
	doneCalls int
	deleted   []string
	storeErr  error
}

func (m *mockStorage) Store(ctx context.Context, resource domain.Resource, chain *domain.EventChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.stored = append(m.stored, resource)
	return nil
}

func (m *mockStorage) StoreGrouped(ctx context.Context, resources []domain.Resource, chain *domain.EventChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grouped = append(m.grouped, resources...)
	return nil
}

func (m *mockStorage) Done(ctx context.Context, chain *domain.EventChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doneCalls++
	return nil
}

func (m *mockStorage) DeleteProjected(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ids...)
	return nil
}

type mockAnchor struct {
	mu        sync.Mutex
	submitted []string
	infos     map[string]eventchain.AnchorInfo
	fetchErr  error
}

func (m *mockAnchor) Submit(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, hash)
	return nil
}

func (m *mockAnchor) FetchMultiple(ctx context.Context, hashes []string) (map[string]eventchain.AnchorInfo, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	out := map[string]eventchain.AnchorInfo{}
	for _, hash := range hashes {
		if info, ok := m.infos[hash]; ok {
			out[hash] = info
		}
	}
	return out, nil
}

type dispatched struct {
	chain *domain.EventChain
	nodes []string
}

type mockDispatcher struct {
	mu        sync.Mutex
	calls     []dispatched
	fail      map[string]error
	delay     time.Duration
	cancelled []string
}

func (m *mockDispatcher) Dispatch(ctx context.Context, chain *domain.EventChain, nodes []string) error {
	m.mu.Lock()
	m.calls = append(m.calls, dispatched{chain: chain, nodes: nodes})
	err := m.fail[nodes[0]]
	m.mu.Unlock()

	if err != nil {
		return err
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			m.mu.Lock()
			m.cancelled = append(m.cancelled, nodes...)
			m.mu.Unlock()
			return ctx.Err()
		}
	}
	return nil
}

// --- helpers ---

type fixture struct {
	storage    *mockStorage
	anchor     *mockAnchor
	dispatcher *mockDispatcher
}

func newFixture() *fixture {
	return &fixture{
		storage:    &mockStorage{},
		anchor:     &mockAnchor{},
		dispatcher: &mockDispatcher{},
	}
}

func (f *fixture) manager(t *testing.T, chain *domain.EventChain) *EventManager {
	t.Helper()
	m, err := NewEventManager(
		chain,
		nodeAccount,
		domain.NewResourceFactory(),
		f.storage,
		f.anchor,
		f.dispatcher,
		NewErrorEventFactory(nodeAccount, "localhost"),
	)
	require.NoError(t, err)
	return m
}

func newChainID(t *testing.T, genesis *eventchain.Account) string {
	t.Helper()
	id, err := eventchain.CreateChainID(genesis.PublicKeyBytes(), []byte("nonce"))
	require.NoError(t, err)
	return id
}

func signEvent(t *testing.T, signer domain.Signer, previous string, body map[string]any) *domain.Event {
	t.Helper()
	encoded, err := domain.EncodeBody(body)
	require.NoError(t, err)
	return domain.Draft{
		Origin:    "localhost",
		Body:      encoded,
		Timestamp: testTimestamp,
		Previous:  previous,
	}.Sign(signer)
}

func identityBody(id string, user *eventchain.Account, system *eventchain.Account, node string) map[string]any {
	return map[string]any{
		"$schema": domain.IdentitySchema,
		"id":      id,
		"node":    node,
		"signkeys": map[string]any{
			"default": user.PublicSignKey(),
			"user":    user.PublicSignKey(),
			"system":  system.PublicSignKey(),
		},
	}
}

func commentBody(text string) map[string]any {
	return map[string]any{
		"$schema": domain.CommentSchema,
		"comment": text,
	}
}

func documentBody(id string) map[string]any {
	return map[string]any{
		"$schema": domain.SchemaBase + "document/schema.json#",
		"id":      id,
	}
}

// eventBatch builds a partial chain of events signed by signer, linked after previous.
func eventBatch(t *testing.T, id string, previous string, signer domain.Signer, bodies ...map[string]any) *domain.EventChain {
	t.Helper()
	batch := domain.NewEventChain(id)
	for _, body := range bodies {
		event := signEvent(t, signer, previous, body)
		batch.AddEvent(event)
		previous = event.Hash
	}
	return batch
}

// genesisBatch returns the events of a new chain starting with alice's identity on the local node.
func genesisBatch(t *testing.T, bodies ...map[string]any) *domain.EventChain {
	t.Helper()
	id := newChainID(t, aliceAccount)
	initial := domain.NewEventChain(id).InitialHash()
	all := append([]map[string]any{identityBody("alice", aliceAccount, nodeAccount, "local")}, bodies...)
	return eventBatch(t, id, initial, aliceAccount, all...)
}
