package evidence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/evidence/ledger"
	"aegis/internal/platform/config"
	dErrors "aegis/pkg/domain-errors"
)

func newTestService(t *testing.T, client *ledger.MemoryClient) (*Service, *InMemoryProofStore) {
	t.Helper()
	store := NewInMemoryProofStore()
	svc := NewService(
		client,
		store,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil,
		config.LedgerConfig{Network: "testnet"},
		WithConfirmPolicy(time.Millisecond, 3),
	)
	return svc, store
}

func TestCreateProof(t *testing.T) {
	client := ledger.NewMemoryClient()
	svc, store := newTestService(t, client)
	ctx := context.Background()
	doc := baseDocument()

	proof, err := svc.CreateProof(ctx, doc)
	require.NoError(t, err)

	wantHash, _, err := HashDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, wantHash, proof.ContentHash)
	assert.NotEmpty(t, proof.LedgerTxID)
	assert.Greater(t, proof.Confirmations, 0)
	assert.Equal(t, doc.CaseRef, proof.SourceDocumentRef)
	assert.Equal(t, "https://testnet.explorer.aegisledger.io/transaction/"+proof.LedgerTxID, proof.VerificationURL)

	stored, err := store.FindByTxID(ctx, proof.LedgerTxID)
	require.NoError(t, err)
	assert.Equal(t, proof, stored)
}

func TestCreateProof_ConfirmsAfterPolling(t *testing.T) {
	client := ledger.NewMemoryClient()
	client.ConfirmAfter = 2 // first two queries see zero confirmations
	svc, _ := newTestService(t, client)

	proof, err := svc.CreateProof(context.Background(), baseDocument())
	require.NoError(t, err)
	assert.Greater(t, proof.Confirmations, 0)
}

func TestCreateProof_AnchoringTimeout(t *testing.T) {
	client := ledger.NewMemoryClient()
	client.ConfirmAfter = 100 // never confirms within the polling budget
	svc, store := newTestService(t, client)
	ctx := context.Background()
	doc := baseDocument()

	_, err := svc.CreateProof(ctx, doc)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAnchoringTimeout))

	// Nothing was persisted; a retry is the caller's whole-operation redo.
	proofs, listErr := store.ListByCaseRef(ctx, doc.CaseRef)
	require.NoError(t, listErr)
	assert.Empty(t, proofs)
}

func TestCreateProof_SubmitFailure(t *testing.T) {
	client := ledger.NewMemoryClient()
	client.SubmitErr = errors.New("ledger unreachable")
	svc, _ := newTestService(t, client)

	_, err := svc.CreateProof(context.Background(), baseDocument())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestCreateBatchProof(t *testing.T) {
	client := ledger.NewMemoryClient()
	svc, _ := newTestService(t, client)
	ctx := context.Background()

	t.Run("empty batch rejected", func(t *testing.T) {
		_, err := svc.CreateBatchProof(ctx, "collective-1", nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("single anchor covers all members", func(t *testing.T) {
		docs := []Document{baseDocument(), baseDocument(), baseDocument()}
		docs[1].CaseRef = "case-002"
		docs[2].CaseRef = "case-003"

		proof, err := svc.CreateBatchProof(ctx, "collective-1", docs)
		require.NoError(t, err)

		members := make([]BatchMember, 0, len(docs))
		for _, doc := range docs {
			hash, _, hashErr := HashDocument(doc)
			require.NoError(t, hashErr)
			members = append(members, BatchMember{CaseRef: doc.CaseRef, ContentHash: hash})
		}
		assert.Equal(t, HashBatchManifest(members), proof.ContentHash)
		assert.Equal(t, "collective-1", proof.SourceDocumentRef)
	})
}

func TestVerifyProof(t *testing.T) {
	client := ledger.NewMemoryClient()
	svc, _ := newTestService(t, client)
	ctx := context.Background()
	doc := baseDocument()

	proof, err := svc.CreateProof(ctx, doc)
	require.NoError(t, err)

	t.Run("unmodified document is valid", func(t *testing.T) {
		result, err := svc.VerifyProof(ctx, proof.LedgerTxID, doc)
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, result.OnChainHash, result.ComputedHash)
	})

	t.Run("tampered document is a mismatch result, not an error", func(t *testing.T) {
		tampered := doc
		tampered.Content += " (revised)"
		result, err := svc.VerifyProof(ctx, proof.LedgerTxID, tampered)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.NotEqual(t, result.OnChainHash, result.ComputedHash)
	})

	t.Run("unknown transaction is not found", func(t *testing.T) {
		_, err := svc.VerifyProof(ctx, "deadbeef", doc)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestGetProofsForCase(t *testing.T) {
	client := ledger.NewMemoryClient()
	svc, _ := newTestService(t, client)
	ctx := context.Background()

	doc := baseDocument()
	first, err := svc.CreateProof(ctx, doc)
	require.NoError(t, err)
	doc.Content += " Second revision."
	second, err := svc.CreateProof(ctx, doc)
	require.NoError(t, err)

	proofs, err := svc.GetProofsForCase(ctx, doc.CaseRef)
	require.NoError(t, err)
	require.Len(t, proofs, 2)
	assert.Equal(t, first.LedgerTxID, proofs[0].LedgerTxID)
	assert.Equal(t, second.LedgerTxID, proofs[1].LedgerTxID)
}
