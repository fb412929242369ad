// Package wallet keeps an encrypted set of Solana keypairs and signs
// transactions with them.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

const (
	MaxGenerate    = 1000
	MaxLabelLength = 64
)

// Config holds configuration for the wallet store
type Config struct {
	// Path of the encrypted store file. Empty keeps the store in memory.
	Path          string
	Password      string
	KDFIterations int
	KeygenWorkers int

	// NewKey overrides keypair generation (tests)
	NewKey func() (solana.PrivateKey, error)
	Logger *logrus.Logger
}

// WalletInfo is the public view of a stored wallet
type WalletInfo struct {
	PublicKey solana.PublicKey `json:"publicKey"`
	Label     string           `json:"label"`
	Balance   float64          `json:"balance"`
}

type entry struct {
	key     solana.PrivateKey
	pub     solana.PublicKey
	label   string
	balance float64
}

func (e entry) info() WalletInfo {
	return WalletInfo{PublicKey: e.pub, Label: e.label, Balance: e.balance}
}

// record is the plaintext element of the encrypted JSON array
type record struct {
	PublicKey  string  `json:"publicKey"`
	PrivateKey string  `json:"privateKey"`
	Label      string  `json:"label"`
	Balance    float64 `json:"balance"`
}

// Store is the only owner of wallet records. Every mutation is persisted
// before it becomes visible.
type Store struct {
	path       string
	password   string
	iterations int
	keygen     *Keygen
	logger     *logrus.Logger

	mu      sync.RWMutex
	wallets []entry

	hooksMu sync.Mutex
	hooks   []ChangeFunc
}

// ChangeFunc observes wallets entering or leaving the store. It runs after the
// change is persisted and outside the store lock.
type ChangeFunc func(added, removed []solana.PublicKey)

// Open builds a store and loads Path when the file exists
func Open(cfg Config) (*Store, error) {
	const op = "wallet.open"
	if cfg.Password == "" {
		return nil, errs.New(errs.Validation, op, "store password is required")
	}
	if cfg.KDFIterations <= 0 {
		cfg.KDFIterations = DefaultKDFIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	s := &Store{
		path:       cfg.Path,
		password:   cfg.Password,
		iterations: cfg.KDFIterations,
		keygen:     NewKeygen(cfg.KeygenWorkers, cfg.NewKey),
		logger:     cfg.Logger,
	}

	if cfg.Path == "" {
		return s, nil
	}

	blob, err := os.ReadFile(cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.WithField("path", cfg.Path).Info("wallet store not found, starting empty")
		return s, nil
	}
	if err != nil {
		s.keygen.Close()
		return nil, fmt.Errorf("read wallet store: %w", err)
	}

	wallets, err := s.decode(string(blob))
	if err != nil {
		s.keygen.Close()
		return nil, err
	}
	s.wallets = wallets

	s.logger.WithFields(logrus.Fields{
		"path":    cfg.Path,
		"wallets": len(wallets),
	}).Info("wallet store loaded")
	return s, nil
}

// Close stops the keygen workers
func (s *Store) Close() {
	s.keygen.Close()
}

// GenerateWallets creates n wallets labelled "Wallet <k>". Either all n are
// added and persisted or the store is left untouched.
func (s *Store) GenerateWallets(ctx context.Context, n int) ([]WalletInfo, error) {
	const op = "wallet.generate"
	if n < 1 || n > MaxGenerate {
		return nil, errs.New(errs.Validation, op, "wallet count %d out of range [1,%d]", n, MaxGenerate)
	}

	keys, err := s.keygen.Generate(ctx, n)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, op, err, "keypair generation failed")
	}

	s.mu.Lock()
	next := make([]entry, len(s.wallets), len(s.wallets)+n)
	copy(next, s.wallets)
	out := make([]WalletInfo, 0, n)
	added := make([]solana.PublicKey, 0, n)
	for i, k := range keys {
		e := entry{
			key:   k,
			pub:   k.PublicKey(),
			label: defaultLabel(len(s.wallets) + i),
		}
		next = append(next, e)
		out = append(out, e.info())
		added = append(added, e.pub)
	}
	err = s.commit(next)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.WithField("count", n).Info("wallets generated")
	s.notify(added, nil)
	return out, nil
}

// AddWallet creates one wallet with the given label
func (s *Store) AddWallet(ctx context.Context, label string) (WalletInfo, error) {
	const op = "wallet.add"
	label, err := validateLabel(op, label)
	if err != nil {
		return WalletInfo{}, err
	}

	keys, err := s.keygen.Generate(ctx, 1)
	if err != nil {
		return WalletInfo{}, errs.Wrap(errs.Internal, op, err, "keypair generation failed")
	}
	e := entry{key: keys[0], pub: keys[0].PublicKey(), label: label}

	s.mu.Lock()
	err = s.commit(append(s.clone(), e))
	s.mu.Unlock()
	if err != nil {
		return WalletInfo{}, err
	}
	s.notify([]solana.PublicKey{e.pub}, nil)
	return e.info(), nil
}

// RemoveWallet deletes every record with the given public key
func (s *Store) RemoveWallet(pub solana.PublicKey) error {
	const op = "wallet.remove"
	s.mu.Lock()
	next := make([]entry, 0, len(s.wallets))
	for _, e := range s.wallets {
		if !e.pub.Equals(pub) {
			next = append(next, e)
		}
	}
	if len(next) == len(s.wallets) {
		s.mu.Unlock()
		return errs.New(errs.Validation, op, "wallet %s not found", pub)
	}
	err := s.commit(next)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(nil, []solana.PublicKey{pub})
	return nil
}

// OnChange registers fn for every later add, generate, import and remove
func (s *Store) OnChange(fn ChangeFunc) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

func (s *Store) notify(added, removed []solana.PublicKey) {
	s.hooksMu.Lock()
	hooks := append([]ChangeFunc(nil), s.hooks...)
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(added, removed)
	}
}

// UpdateWalletLabel renames a wallet
func (s *Store) UpdateWalletLabel(pub solana.PublicKey, label string) error {
	const op = "wallet.label"
	label, err := validateLabel(op, label)
	if err != nil {
		return err
	}
	return s.update(op, pub, func(e *entry) { e.label = label })
}

// UpdateWalletBalance records a balance in SOL
func (s *Store) UpdateWalletBalance(pub solana.PublicKey, balance float64) error {
	const op = "wallet.balance"
	if balance < 0 || math.IsNaN(balance) || math.IsInf(balance, 0) {
		return errs.New(errs.Validation, op, "invalid balance %v", balance)
	}
	return s.update(op, pub, func(e *entry) { e.balance = balance })
}

func (s *Store) update(op string, pub solana.PublicKey, fn func(*entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	found := false
	for i := range next {
		if next[i].pub.Equals(pub) {
			fn(&next[i])
			found = true
		}
	}
	if !found {
		return errs.New(errs.Validation, op, "wallet %s not found", pub)
	}
	return s.commit(next)
}

// Wallets lists all wallets in insertion order
func (s *Store) Wallets() []WalletInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WalletInfo, 0, len(s.wallets))
	for _, e := range s.wallets {
		out = append(out, e.info())
	}
	return out
}

// Get returns the first wallet with the given public key
func (s *Store) Get(pub solana.PublicKey) (WalletInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.wallets {
		if e.pub.Equals(pub) {
			return e.info(), true
		}
	}
	return WalletInfo{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wallets)
}

// ExportWallets returns the full set in the persistence format
func (s *Store) ExportWallets() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encode(s.wallets)
}

// ImportWallets appends the wallets in blob, which may be an encrypted export
// or a plain JSON array. Duplicates are kept. Labels follow the AddWallet rules
// and a record without one is named "Wallet <k>" by its position in the store.
func (s *Store) ImportWallets(blob string) (int, error) {
	const op = "wallet.import"
	blob = strings.TrimSpace(blob)

	imported, err := s.decode(blob)
	if err != nil {
		plain, perr := parseRecords([]byte(blob))
		if perr != nil {
			return 0, errs.Wrap(errs.Encryption, op, err, "blob is neither an encrypted export nor a JSON wallet array")
		}
		imported = plain
	}

	for i := range imported {
		if strings.TrimSpace(imported[i].label) == "" {
			imported[i].label = ""
			continue
		}
		if imported[i].label, err = validateLabel(op, imported[i].label); err != nil {
			return 0, fmt.Errorf("wallet %d: %w", i, err)
		}
	}

	s.mu.Lock()
	added := make([]solana.PublicKey, 0, len(imported))
	for i := range imported {
		if imported[i].label == "" {
			imported[i].label = defaultLabel(len(s.wallets) + i)
		}
		added = append(added, imported[i].pub)
	}
	err = s.commit(append(s.clone(), imported...))
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.logger.WithField("count", len(imported)).Info("wallets imported")
	s.notify(added, nil)
	return len(imported), nil
}

// SignTransaction replaces tx's signatures with fresh ones from the stored
// keys. Every listed signer must be present in the store.
func (s *Store) SignTransaction(tx *solana.Transaction, signers ...solana.PublicKey) error {
	const op = "wallet.sign"
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make(map[solana.PublicKey]solana.PrivateKey, len(s.wallets))
	for _, e := range s.wallets {
		if _, ok := keys[e.pub]; !ok {
			keys[e.pub] = e.key
		}
	}
	for _, pub := range signers {
		if _, ok := keys[pub]; !ok {
			return errs.New(errs.Validation, op, "signer %s not in wallet store", pub)
		}
	}

	tx.Signatures = nil
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		k, ok := keys[pub]
		if !ok {
			return nil
		}
		return &k
	})
	if err != nil {
		return errs.Wrap(errs.Validation, op, err, "sign transaction")
	}
	return nil
}

func (s *Store) clone() []entry {
	out := make([]entry, len(s.wallets))
	copy(out, s.wallets)
	return out
}

// commit persists next and only then swaps it in. Caller holds s.mu.
func (s *Store) commit(next []entry) error {
	if err := s.persist(next); err != nil {
		return err
	}
	s.wallets = next
	return nil
}

func (s *Store) persist(wallets []entry) error {
	if s.path == "" {
		return nil
	}
	blob, err := s.encode(wallets)
	if err != nil {
		return err
	}
	return writeAtomic(s.path, []byte(blob))
}

func (s *Store) encode(wallets []entry) (string, error) {
	recs := make([]record, 0, len(wallets))
	for _, e := range wallets {
		recs = append(recs, record{
			PublicKey:  e.pub.String(),
			PrivateKey: encodePrivateKey(e.key),
			Label:      e.label,
			Balance:    e.balance,
		})
	}
	plain, err := json.Marshal(recs)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "wallet.encode", err, "marshal wallets")
	}
	return seal(plain, s.password, s.iterations)
}

func (s *Store) decode(blob string) ([]entry, error) {
	plain, err := open(blob, s.password, s.iterations)
	if err != nil {
		return nil, err
	}
	wallets, err := parseRecords(plain)
	if err != nil {
		return nil, errs.Wrap(errs.Encryption, "wallet.decode", err, "decrypted payload is not a wallet array")
	}
	return wallets, nil
}

func parseRecords(data []byte) ([]entry, error) {
	var recs []record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	out := make([]entry, 0, len(recs))
	for i, r := range recs {
		key, err := parsePrivateKey(r.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %d: %w", i, err)
		}
		pub := key.PublicKey()
		if r.PublicKey != "" && r.PublicKey != pub.String() {
			return nil, fmt.Errorf("wallet %d: public key does not match private key", i)
		}
		out = append(out, entry{key: key, pub: pub, label: r.Label, balance: r.Balance})
	}
	return out, nil
}

func defaultLabel(index int) string {
	return fmt.Sprintf("Wallet %d", index+1)
}

func validateLabel(op, label string) (string, error) {
	label = strings.TrimSpace(label)
	if n := len([]rune(label)); n < 1 || n > MaxLabelLength {
		return "", errs.New(errs.Validation, op, "label must be 1-%d characters", MaxLabelLength)
	}
	return label, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wallets-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp wallet file: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write wallet store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync wallet store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close wallet store: %w", err)
	}
	if err := os.Chmod(name, 0o600); err != nil {
		os.Remove(name)
		return fmt.Errorf("chmod wallet store: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace wallet store: %w", err)
	}
	return nil
}
