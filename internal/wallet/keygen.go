package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

var errKeygenClosed = errors.New("keygen pool closed")

type keygenRequest struct {
	reply chan<- keygenResult
}

type keygenResult struct {
	key solana.PrivateKey
	err error
}

// Keygen is a bounded worker pool producing ed25519 keypairs. Requests and
// results travel over typed channels.
type Keygen struct {
	reqs   chan keygenRequest
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	newKey func() (solana.PrivateKey, error)
}

// NewKeygen starts workers goroutines. newKey may be nil.
func NewKeygen(workers int, newKey func() (solana.PrivateKey, error)) *Keygen {
	if workers < 1 {
		workers = 1
	}
	if newKey == nil {
		newKey = solana.NewRandomPrivateKey
	}
	k := &Keygen{
		reqs:   make(chan keygenRequest),
		done:   make(chan struct{}),
		newKey: newKey,
	}
	for i := 0; i < workers; i++ {
		k.wg.Add(1)
		go k.work()
	}
	return k
}

func (k *Keygen) work() {
	defer k.wg.Done()
	for {
		select {
		case <-k.done:
			return
		case req := <-k.reqs:
			key, err := k.newKey()
			req.reply <- keygenResult{key: key, err: err}
		}
	}
}

// Generate returns n fresh keys, or the first error any worker reported.
func (k *Keygen) Generate(ctx context.Context, n int) ([]solana.PrivateKey, error) {
	// buffered so workers never block on a caller that gave up
	replies := make(chan keygenResult, n)

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-k.done:
			return nil, errKeygenClosed
		case k.reqs <- keygenRequest{reply: replies}:
		}
	}

	keys := make([]solana.PrivateKey, 0, n)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-replies:
			if res.err != nil {
				return nil, fmt.Errorf("generate keypair: %w", res.err)
			}
			keys = append(keys, res.key)
		}
	}
	return keys, nil
}

// Close stops the workers and waits for them to exit.
func (k *Keygen) Close() {
	k.once.Do(func() { close(k.done) })
	k.wg.Wait()
}
