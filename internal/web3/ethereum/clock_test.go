package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"

	coretypes "github.com/ethereum/go-ethereum/core/types"
)

type stubHeaders struct {
	header *coretypes.Header
	err    error
	calls  int
}

func (s *stubHeaders) HeaderByNumber(_ context.Context, number *big.Int) (*coretypes.Header, error) {
	s.calls++
	if number != nil {
		return nil, errors.New("expected latest block request")
	}
	return s.header, s.err
}

func TestBlockClockReturnsHeadTimestamp(t *testing.T) {
	stub := &stubHeaders{header: &coretypes.Header{Number: big.NewInt(42), Time: 1_700_000_000}}
	clock := newBlockClockWithReader("local", stub)

	now, err := clock.Now(context.Background())
	if err != nil {
		t.Fatalf("now: %v", err)
	}
	if now != 1_700_000_000 {
		t.Fatalf("unexpected timestamp %d", now)
	}
	if clock.Name() != "local" {
		t.Fatalf("unexpected name %q", clock.Name())
	}
}

func TestBlockClockPropagatesErrors(t *testing.T) {
	stub := &stubHeaders{err: errors.New("node down")}
	clock := newBlockClockWithReader("local", stub)
	if _, err := clock.Now(context.Background()); err == nil {
		t.Fatal("expected error from failing node")
	}

	stub.err = nil
	if _, err := clock.Now(context.Background()); err == nil {
		t.Fatal("expected error for nil header")
	}

	clock.Close()
	calls := stub.calls
	if _, err := clock.Now(context.Background()); err == nil {
		t.Fatal("expected error after close")
	}
	if stub.calls != calls {
		t.Fatal("closed clock must not query the node")
	}
}

func TestNewBlockClockRequiresURL(t *testing.T) {
	if _, err := NewBlockClock(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty rpc url")
	}
}
