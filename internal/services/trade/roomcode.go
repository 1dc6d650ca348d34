package trade

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/rajivgeraev/cardtrade-api/internal/store"
)

// Алфавит без похожих символов (0/O, 1/I/L)
const (
	roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 8
	roomCodeAttempts = 5
)

// NewRoomCode генерирует код приватной комнаты
func NewRoomCode() (string, error) {
	size := big.NewInt(int64(len(roomCodeAlphabet)))
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// uniqueRoomCode подбирает код, не занятый другим обменом
func uniqueRoomCode(ctx context.Context, tx store.Tx) (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		code, err := NewRoomCode()
		if err != nil {
			return "", err
		}
		_, err = tx.GetTradeByRoomCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("room code: %w", store.ErrDuplicate)
}
