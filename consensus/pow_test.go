package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"pow-ledger/interfaces"
)

type testBlock struct {
	index      int
	timestamp  float64
	difficulty int
	hash       string
	prefix     string
}

func (b *testBlock) GetIndex() int         { return b.index }
func (b *testBlock) GetTimestamp() float64 { return b.timestamp }
func (b *testBlock) GetDifficulty() int    { return b.difficulty }
func (b *testBlock) GetHash() string       { return b.hash }
func (b *testBlock) NonceHasher() (func(uint64) string, error) {
	return func(nonce uint64) string {
		sum := sha256.Sum256([]byte(b.prefix + strconv.FormatUint(nonce, 10)))
		return hex.EncodeToString(sum[:])
	}, nil
}

func TestMeetsDifficulty(t *testing.T) {
	tests := []struct {
		name       string
		hash       string
		difficulty int
		want       bool
	}{
		{"one zero", "0" + strings.Repeat("f", 63), 1, true},
		{"two zeros needed", "0" + strings.Repeat("f", 63), 2, false},
		{"exact three", "000" + strings.Repeat("a", 61), 3, true},
		{"all zeros max", strings.Repeat("0", 64), 8, true},
		{"no zeros", strings.Repeat("a", 64), 1, false},
		{"difficulty zero", strings.Repeat("f", 64), 0, true},
		{"too short", "00ab", 1, false},
		{"not hex", "0z" + strings.Repeat("a", 62), 1, false},
		{"empty", "", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MeetsDifficulty(tt.hash, tt.difficulty); got != tt.want {
				t.Errorf("MeetsDifficulty(%q, %d) = %v, want %v", tt.hash, tt.difficulty, got, tt.want)
			}
		})
	}
}

func TestMineBlockPostcondition(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run("workers="+strconv.Itoa(workers), func(t *testing.T) {
			pow := NewProofOfWork(workers)
			block := &testBlock{difficulty: 3, prefix: "0" + "1700000000.5" + "[]" + "0"}

			seal, err := pow.MineBlock(context.Background(), block)
			if err != nil {
				t.Fatalf("MineBlock() error = %v", err)
			}
			if !strings.HasPrefix(seal.Hash, "000") {
				t.Errorf("hash %s does not have 3 leading zeros", seal.Hash)
			}
			hasher, _ := block.NonceHasher()
			if got := hasher(seal.Nonce); got != seal.Hash {
				t.Errorf("seal hash %s does not match nonce %d (recomputed %s)", seal.Hash, seal.Nonce, got)
			}
			if seal.Attempts == 0 {
				t.Error("expected attempts to be counted")
			}
		})
	}
}

func TestMineBlockSequentialFindsSmallestNonce(t *testing.T) {
	block := &testBlock{difficulty: 2, prefix: "seq"}
	hasher, _ := block.NonceHasher()

	var want uint64
	for !MeetsDifficulty(hasher(want), 2) {
		want++
	}

	seal, err := NewProofOfWork(1).MineBlock(context.Background(), block)
	if err != nil {
		t.Fatalf("MineBlock() error = %v", err)
	}
	if seal.Nonce != want {
		t.Errorf("nonce = %d, want %d", seal.Nonce, want)
	}
}

func TestMineBlockCancellation(t *testing.T) {
	pow := NewProofOfWork(2)
	pow.SetCheckInterval(16)
	block := &testBlock{difficulty: 60, prefix: "never"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := pow.MineBlock(ctx, block)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrMiningCancelled) {
			t.Errorf("error = %v, want ErrMiningCancelled", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want it to wrap context.DeadlineExceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("MineBlock did not stop after the deadline")
	}
}

func TestCalculateDifficulty(t *testing.T) {
	window := func(deltas ...float64) []interfaces.BlockHeaderItf {
		out := []interfaces.BlockHeaderItf{&testBlock{timestamp: 1000}}
		ts := 1000.0
		for i, d := range deltas {
			ts += d
			out = append(out, &testBlock{index: i + 1, timestamp: ts})
		}
		return out
	}

	pow := NewProofOfWork(1)
	tests := []struct {
		name    string
		current int
		window  []interfaces.BlockHeaderItf
		want    int
	}{
		{"fast raises", 2, window(1, 1, 1, 1), 3},
		{"slow lowers", 3, window(20, 20, 20, 20), 2},
		{"inside band", 4, window(10, 10, 10, 10), 4},
		{"edge 0.75 unchanged", 4, window(7.5, 7.5), 4},
		{"edge 1.5 unchanged", 4, window(15, 15), 4},
		{"capped at max", 8, window(0.1, 0.1), 8},
		{"floored at min", 1, window(100, 100), 1},
		{"single block window", 5, window(), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pow.CalculateDifficulty(tt.current, tt.window, 10); got != tt.want {
				t.Errorf("CalculateDifficulty() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidateProofOfWork(t *testing.T) {
	pow := NewProofOfWork(1)
	good := &testBlock{difficulty: 2, hash: "00" + strings.Repeat("1", 62)}
	bad := &testBlock{difficulty: 3, hash: "00" + strings.Repeat("1", 62)}

	if !pow.ValidateProofOfWork(good) {
		t.Error("expected hash with two zeros to satisfy difficulty 2")
	}
	if pow.ValidateProofOfWork(bad) {
		t.Error("expected hash with two zeros to fail difficulty 3")
	}
}
