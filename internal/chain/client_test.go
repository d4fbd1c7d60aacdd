package chain

import (
	"math/big"
	"testing"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func TestNanoToFloat(t *testing.T) {
	tests := []struct {
		name string
		nano string
		want float64
	}{
		{"one TON", "1000000000", 1.0},
		{"half TON", "500000000", 0.5},
		{"zero", "0", 0.0},
		{"fractional", "1500000000", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := new(big.Int).SetString(tt.nano, 10)
			if !ok {
				t.Fatalf("bad test input %q", tt.nano)
			}
			if got := nanoToFloat(n); got != tt.want {
				t.Errorf("nanoToFloat(%s) = %v, want %v", tt.nano, got, tt.want)
			}
		})
	}
}

func textCommentBody(t *testing.T, text string) *cell.Cell {
	t.Helper()
	return cell.BeginCell().
		MustStoreUInt(0, 32).
		MustStoreStringSnake(text).
		EndCell()
}

func TestExtractComment(t *testing.T) {
	t.Run("text comment", func(t *testing.T) {
		in := &tlb.InternalMessage{Body: textCommentBody(t, "deal-1234")}
		if got := extractComment(in); got != "deal-1234" {
			t.Errorf("extractComment() = %q, want %q", got, "deal-1234")
		}
	})

	t.Run("nil body", func(t *testing.T) {
		in := &tlb.InternalMessage{Body: nil}
		if got := extractComment(in); got != "" {
			t.Errorf("extractComment() with nil body = %q, want empty", got)
		}
	})

	t.Run("non-comment op code", func(t *testing.T) {
		body := cell.BeginCell().MustStoreUInt(0x12345678, 32).EndCell()
		in := &tlb.InternalMessage{Body: body}
		if got := extractComment(in); got != "" {
			t.Errorf("extractComment() with non-zero op = %q, want empty", got)
		}
	})
}
