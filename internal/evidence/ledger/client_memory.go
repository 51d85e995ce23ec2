package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// MemoryClient is an in-process ledger for tests and local development.
// Transactions confirm after ConfirmAfter queries, which lets tests exercise
// the polling loop deterministically.
type MemoryClient struct {
	mu           sync.Mutex
	txs          map[string]*memoryTx
	seq          int
	ConfirmAfter int
	SubmitErr    error
}

type memoryTx struct {
	metadata  []byte
	block     int64
	queries   int
	timestamp time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{txs: make(map[string]*memoryTx)}
}

func (c *MemoryClient) Submit(_ context.Context, metadata []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubmitErr != nil {
		return "", c.SubmitErr
	}
	c.seq++
	sum := sha256.Sum256(append([]byte(fmt.Sprintf("tx-%d:", c.seq)), metadata...))
	txID := hex.EncodeToString(sum[:])
	c.txs[txID] = &memoryTx{
		metadata:  metadata,
		block:     int64(1000 + c.seq),
		timestamp: time.Now().UTC(),
	}
	return txID, nil
}

func (c *MemoryClient) Query(_ context.Context, txID string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[txID]
	if !ok {
		return nil, ErrTxNotFound
	}
	tx.queries++
	confirmations := 0
	if tx.queries > c.ConfirmAfter {
		confirmations = tx.queries - c.ConfirmAfter
	}
	return &Record{
		Metadata:      tx.metadata,
		Block:         tx.block,
		Confirmations: confirmations,
		Timestamp:     tx.timestamp,
	}, nil
}
