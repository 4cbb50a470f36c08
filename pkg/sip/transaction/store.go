package transaction

import (
	"fmt"
	"sync"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// Store is a thread-safe table of live transactions, indexed by Key
// and, secondarily, by Call-ID+CSeq for duplicate-request detection.
type Store struct {
	mu           sync.RWMutex
	transactions map[string]Transaction
	byMessage    map[string][]string
	stats        StoreStats

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// StoreStats counts store-level bookkeeping events.
type StoreStats struct {
	TotalTransactions    uint64
	ActiveTransactions   uint64
	CleanedTransactions  uint64
	MessageKeyCollisions uint64
}

// NewStore returns a Store that reaps terminated transactions every
// 30 seconds in the background.
func NewStore() *Store {
	s := &Store{
		transactions: make(map[string]Transaction),
		byMessage:    make(map[string][]string),
		stopCleanup:  make(chan struct{}),
	}
	s.cleanupTicker = time.NewTicker(30 * time.Second)
	go s.cleanupRoutine()
	return s
}

// Add registers tx under its key. Fails if the key is already in use.
func (s *Store) Add(tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tx.Key().String()
	if _, exists := s.transactions[key]; exists {
		return NewError(tx.ID(), "add to store", tx.State(),
			fmt.Errorf("transaction with key %s already exists", key))
	}

	s.transactions[key] = tx
	s.stats.TotalTransactions++
	s.stats.ActiveTransactions++

	if req := tx.Request(); req != nil {
		msgKey := generateMessageKey(req)
		s.byMessage[msgKey] = append(s.byMessage[msgKey], key)
		if len(s.byMessage[msgKey]) > 1 {
			s.stats.MessageKeyCollisions++
		}
	}
	return nil
}

func (s *Store) Get(key Key) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[key.String()]
	return tx, ok
}

func (s *Store) GetByID(id string) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.transactions {
		if tx.ID() == id {
			return tx, true
		}
	}
	return nil, false
}

// FindByMessage returns transactions sharing msg's Call-ID+CSeq. The
// manager uses it as the fallback when a response's branch key matches
// no client transaction; duplicate requests are found by branch key.
func (s *Store) FindByMessage(msg message.Message) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgKey := generateMessageKey(msg)
	txKeys, ok := s.byMessage[msgKey]
	if !ok {
		return nil
	}
	result := make([]Transaction, 0, len(txKeys))
	for _, key := range txKeys {
		if tx, ok := s.transactions[key]; ok {
			result = append(result, tx)
		}
	}
	return result
}

func (s *Store) Remove(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyStr := key.String()
	tx, exists := s.transactions[keyStr]
	if !exists {
		return false
	}

	delete(s.transactions, keyStr)
	s.stats.ActiveTransactions--

	if req := tx.Request(); req != nil {
		s.removeFromMessageIndex(generateMessageKey(req), keyStr)
	}
	return true
}

func (s *Store) GetAll() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		result = append(result, tx)
	}
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions)
}

func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Close stops the cleanup routine and drops all transactions.
func (s *Store) Close() error {
	close(s.stopCleanup)
	s.cleanupTicker.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = make(map[string]Transaction)
	s.byMessage = make(map[string][]string)
	return nil
}

func (s *Store) cleanupRoutine() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove []string
	for key, tx := range s.transactions {
		if tx.IsTerminated() {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		if tx, ok := s.transactions[key]; ok {
			delete(s.transactions, key)
			s.stats.ActiveTransactions--
			s.stats.CleanedTransactions++
			if req := tx.Request(); req != nil {
				s.removeFromMessageIndex(generateMessageKey(req), key)
			}
		}
	}
}

func (s *Store) removeFromMessageIndex(msgKey, txKey string) {
	keys := s.byMessage[msgKey]
	if len(keys) == 0 {
		return
	}
	newKeys := make([]string, 0, len(keys)-1)
	for _, k := range keys {
		if k != txKey {
			newKeys = append(newKeys, k)
		}
	}
	if len(newKeys) == 0 {
		delete(s.byMessage, msgKey)
	} else {
		s.byMessage[msgKey] = newKeys
	}
}

func generateMessageKey(msg message.Message) string {
	callID := msg.GetHeader("Call-ID")
	cseq := msg.GetHeader("CSeq")
	if callID == "" || cseq == "" {
		return extractBranch(msg.GetHeader("Via"))
	}
	return callID + "|" + cseq
}

// CleanupTerminated forces an immediate reap and returns the count removed.
func (s *Store) CleanupTerminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	var toRemove []string
	for key, tx := range s.transactions {
		if tx.IsTerminated() {
			toRemove = append(toRemove, key)
			count++
		}
	}
	for _, key := range toRemove {
		if tx, ok := s.transactions[key]; ok {
			delete(s.transactions, key)
			s.stats.ActiveTransactions--
			s.stats.CleanedTransactions++
			if req := tx.Request(); req != nil {
				s.removeFromMessageIndex(generateMessageKey(req), key)
			}
		}
	}
	return count
}
