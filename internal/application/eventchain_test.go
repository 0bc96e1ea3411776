package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/internal/domain"
)

var (
	aliceAccount = eventchain.AccountFromSeed([]byte("alice"))
	nodeAccount  = eventchain.AccountFromSeed([]byte("node"))
)

// --- mocks ---

type memoryRepo struct {
	mu     sync.Mutex
	chains map[string]*domain.EventChain
	saves  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{chains: map[string]*domain.EventChain{}}
}

func (r *memoryRepo) Get(ctx context.Context, id string) (*domain.EventChain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain, ok := r.chains[id]
	if !ok {
		return nil, domain.NotFoundError{Resource: id}
	}
	return chain.Clone(), nil
}

func (r *memoryRepo) Save(ctx context.Context, chain *domain.EventChain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[chain.ID] = chain.Clone()
	r.saves++
	return nil
}

func (r *memoryRepo) ListByIdentity(ctx context.Context, signkey string) ([]*domain.EventChain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.EventChain
	for _, chain := range r.chains {
		if len(chain.Identities.FilterOnSignkey(signkey)) > 0 {
			out = append(out, chain)
		}
	}
	return out, nil
}

type nopStorage struct{}

func (nopStorage) Store(ctx context.Context, resource domain.Resource, chain *domain.EventChain) error {
	return nil
}
func (nopStorage) StoreGrouped(ctx context.Context, resources []domain.Resource, chain *domain.EventChain) error {
	return nil
}
func (nopStorage) Done(ctx context.Context, chain *domain.EventChain) error  { return nil }
func (nopStorage) DeleteProjected(ctx context.Context, ids []string) error { return nil }

type recordingStorage struct {
	nopStorage
	mu     sync.Mutex
	stored []domain.Resource
}

func (s *recordingStorage) Store(ctx context.Context, resource domain.Resource, chain *domain.EventChain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, resource)
	return nil
}

func (s *recordingStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

type mockDispatcher struct {
	mu     sync.Mutex
	chains []*domain.EventChain
}

func (m *mockDispatcher) Dispatch(ctx context.Context, chain *domain.EventChain, nodes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains = append(m.chains, chain)
	return nil
}

type mockAnchor struct {
	infos map[string]eventchain.AnchorInfo
}

func (m *mockAnchor) Submit(ctx context.Context, hash string) error { return nil }

func (m *mockAnchor) FetchMultiple(ctx context.Context, hashes []string) (map[string]eventchain.AnchorInfo, error) {
	out := map[string]eventchain.AnchorInfo{}
	for _, hash := range hashes {
		if info, ok := m.infos[hash]; ok {
			out[hash] = info
		}
	}
	return out, nil
}

type mockSignal struct {
	mu        sync.Mutex
	published []*domain.EventChain
}

func (m *mockSignal) Publish(ctx context.Context, update *domain.EventChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, update)
	return nil
}

// --- helpers ---

type fixture struct {
	app        *EventChainApplication
	repo       *memoryRepo
	storage    *recordingStorage
	anchor     *mockAnchor
	dispatcher *mockDispatcher
	signal     *mockSignal
}

func newFixture() *fixture {
	f := &fixture{
		repo:       newMemoryRepo(),
		storage:    &recordingStorage{},
		anchor:     &mockAnchor{infos: map[string]eventchain.AnchorInfo{}},
		dispatcher: &mockDispatcher{},
		signal:     &mockSignal{},
	}
	f.app = NewEventChainApplication(Deps{
		Repo:       f.repo,
		Node:       nodeAccount,
		Origin:     "localhost",
		Extractor:  domain.NewResourceFactory(),
		Storage:    f.storage,
		Anchor:     f.anchor,
		Dispatcher: f.dispatcher,
		Signal:     f.signal,
	})
	return f
}

func signEvent(t *testing.T, previous string, body map[string]any) *domain.Event {
	t.Helper()
	encoded, err := domain.EncodeBody(body)
	require.NoError(t, err)
	return domain.Draft{
		Origin:    "localhost",
		Body:      encoded,
		Timestamp: 1519862400,
		Previous:  previous,
	}.Sign(aliceAccount)
}

func comment(text string) map[string]any {
	return map[string]any{"$schema": domain.CommentSchema, "comment": text}
}

// genesis returns a batch with alice's identity on the local node followed by comments.
func genesis(t *testing.T, comments ...string) *domain.EventChain {
	t.Helper()
	return genesisOn(t, nodeAccount, "local", comments...)
}

// genesisOn returns a batch with alice's identity using system as system key on node.
func genesisOn(t *testing.T, system *eventchain.Account, node string, comments ...string) *domain.EventChain {
	t.Helper()
	id, err := eventchain.CreateChainID(aliceAccount.PublicKeyBytes(), []byte("nonce"))
	require.NoError(t, err)
	batch := domain.NewEventChain(id)
	batch.AddEvent(signEvent(t, batch.InitialHash(), map[string]any{
		"$schema": domain.IdentitySchema,
		"id":      "alice",
		"node":    node,
		"signkeys": map[string]any{
			"user":   aliceAccount.PublicSignKey(),
			"system": system.PublicSignKey(),
		},
	}))
	for _, text := range comments {
		batch.AddEvent(signEvent(t, batch.LatestHash(), comment(text)))
	}
	return batch
}

// --- tests ---

func TestAddCreatesChain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	batch := genesis(t, "hello")
	chain, validation, err := f.app.Add(ctx, batch)
	require.NoError(t, err)
	assert.True(t, validation.Succeeded(), validation.Errors())
	assert.Equal(t, batch.LatestHash(), chain.LatestHash())
	assert.Equal(t, 1, f.repo.saves)
	require.Len(t, f.signal.published, 1)
	assert.Len(t, f.signal.published[0].Events, 2)

	stored, err := f.app.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Identities, 1)

	list, err := f.app.List(ctx, aliceAccount.PublicSignKey())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// adding the same events again doesn't change anything
	_, validation, err = f.app.Add(ctx, batch)
	require.NoError(t, err)
	assert.True(t, validation.Succeeded())
	assert.Equal(t, 1, f.repo.saves)
}

func TestAddInvalidBatch(t *testing.T) {
	f := newFixture()

	batch := genesis(t)
	batch.AddEvent(signEvent(t, "garbage", comment("hello")))

	chain, validation, err := f.app.Add(context.Background(), batch)
	require.NoError(t, err)
	assert.Nil(t, chain)
	assert.True(t, validation.Failed())
	assert.Equal(t, 0, f.repo.saves)
}

func TestAddStoresErrorEvent(t *testing.T) {
	f := newFixture()

	batch := genesis(t, "hello")
	batch.Events[1].Signature = ""

	chain, validation, err := f.app.Add(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, validation.Failed())

	require.Len(t, chain.Events, 2)
	assert.Equal(t, domain.ErrorSchema, chain.LastEvent().Schema())
	assert.Equal(t, nodeAccount.PublicSignKey(), chain.LastEvent().SignKey)
	assert.Equal(t, 1, f.repo.saves)
}

func TestGetMissing(t *testing.T) {
	f := newFixture()

	_, err := f.app.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// forks returns the stored chain with our comment and their chain with another comment.
func forks(t *testing.T, f *fixture) (*domain.EventChain, *domain.EventChain) {
	t.Helper()
	base := genesis(t)

	ours := base.Clone()
	ours.AddEvent(signEvent(t, base.LatestHash(), comment("ours")))
	_, validation, err := f.app.Add(context.Background(), ours)
	require.NoError(t, err)
	require.True(t, validation.Succeeded(), validation.Errors())

	theirs := base.Clone()
	theirs.AddEvent(signEvent(t, base.LatestHash(), comment("theirs")))
	return ours, theirs
}

func TestResolveOursWins(t *testing.T) {
	f := newFixture()
	ours, theirs := forks(t, f)

	f.anchor.infos[ours.Events[1].GetHash()] = eventchain.AnchorInfo{Block: eventchain.AnchorBlock{Height: 1}}
	f.anchor.infos[theirs.Events[1].GetHash()] = eventchain.AnchorInfo{Block: eventchain.AnchorBlock{Height: 2}}

	chain, validation, err := f.app.Resolve(context.Background(), theirs)
	require.NoError(t, err)
	assert.True(t, validation.Succeeded())
	assert.Equal(t, ours.LatestHash(), chain.LatestHash())
	assert.Equal(t, 1, f.repo.saves)
}

func TestResolveTheirsWins(t *testing.T) {
	f := newFixture()
	ours, theirs := forks(t, f)

	f.anchor.infos[ours.Events[1].GetHash()] = eventchain.AnchorInfo{Block: eventchain.AnchorBlock{Height: 2}}
	f.anchor.infos[theirs.Events[1].GetHash()] = eventchain.AnchorInfo{Block: eventchain.AnchorBlock{Height: 1}}

	storedBefore := f.storage.count()

	chain, validation, err := f.app.Resolve(context.Background(), theirs)
	require.NoError(t, err)
	assert.True(t, validation.Succeeded(), validation.Errors())

	// only their event and the stitched event are stored, the genesis isn't stored again
	assert.Equal(t, storedBefore+2, f.storage.count())

	require.Len(t, chain.Events, 3)
	assert.Equal(t, ours.Events[0].Hash, chain.Events[0].Hash)
	assert.Equal(t, theirs.Events[1].Hash, chain.Events[1].Hash)
	assert.Equal(t, nodeAccount.PublicSignKey(), chain.Events[2].SignKey)
	require.NotNil(t, chain.Events[2].Original)
	assert.Equal(t, ours.Events[1].Hash, chain.Events[2].Original.Hash)

	stored, err := f.app.Get(context.Background(), ours.ID)
	require.NoError(t, err)
	assert.Equal(t, chain.LatestHash(), stored.LatestHash())
}

func TestResolveRebuildFailureKeepsChain(t *testing.T) {
	f := newFixture()
	otherNode := eventchain.AccountFromSeed([]byte("other node"))
	base := genesisOn(t, otherNode, "remote-x")

	ours := base.Clone()
	ours.AddEvent(signEvent(t, base.LatestHash(), comment("ours")))
	_, validation, err := f.app.Add(context.Background(), ours)
	require.NoError(t, err)
	require.True(t, validation.Succeeded(), validation.Errors())
	f.dispatcher.chains = nil

	theirs := base.Clone()
	theirs.AddEvent(signEvent(t, base.LatestHash(), comment("theirs")))

	f.anchor.infos[ours.Events[1].GetHash()] = eventchain.AnchorInfo{Block: eventchain.AnchorBlock{Height: 2}}
	f.anchor.infos[theirs.Events[1].GetHash()] = eventchain.AnchorInfo{Block: eventchain.AnchorBlock{Height: 1}}

	storedBefore := f.storage.count()

	// the node key isn't a key of any identity, so the stitched event can't be added
	_, _, err = f.app.Resolve(context.Background(), theirs)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to rebuild chain")
	assert.ErrorContains(t, err, "no privileges for event")

	assert.Empty(t, f.dispatcher.chains)
	assert.Equal(t, storedBefore, f.storage.count())
	assert.Equal(t, 1, f.repo.saves)

	stored, err := f.app.Get(context.Background(), ours.ID)
	require.NoError(t, err)
	assert.Equal(t, ours.LatestHash(), stored.LatestHash())
}

func TestResolveNotAnchored(t *testing.T) {
	f := newFixture()
	_, theirs := forks(t, f)

	_, _, err := f.app.Resolve(context.Background(), theirs)
	assert.True(t, errors.Is(err, domain.ErrNotAnchored))
}

func TestResolveWithoutConflict(t *testing.T) {
	f := newFixture()
	ours, _ := forks(t, f)

	next := ours.Clone()
	next.AddEvent(signEvent(t, ours.LatestHash(), comment("next")))

	chain, validation, err := f.app.Resolve(context.Background(), next)
	require.NoError(t, err)
	assert.True(t, validation.Succeeded(), validation.Errors())
	assert.Equal(t, next.LatestHash(), chain.LatestHash())
}

func TestKeyedMutex(t *testing.T) {
	locks := newKeyedMutex()

	unlock := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		locks.Lock("a")()
	}()

	locks.Lock("b")()
	unlock()
	<-done

	assert.Empty(t, locks.locks)
}
