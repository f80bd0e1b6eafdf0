// Package validation содержит функции валидации входных данных.
package validation

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MaxCodeLength задаёт максимальную длину реферального кода.
const MaxCodeLength = 32

// CodePrefix задаёт префикс генерируемых реферальных кодов.
const CodePrefix = "ELIXR"

// ErrInvalidFormat возвращается для кода пустого, слишком длинного или содержащего недопустимые символы.
var ErrInvalidFormat = errors.New("invalid referral code format")

// Normalize приводит реферальный код к каноническому виду (верхний регистр).
// Только канонический вид хранится и сравнивается.
func Normalize(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" || len(code) > MaxCodeLength {
		return "", ErrInvalidFormat
	}

	for i := 0; i < len(code); i++ {
		ch := code[i]
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'A' && ch <= 'Z':
		case ch >= 'a' && ch <= 'z':
		default:
			return "", ErrInvalidFormat
		}
	}

	return strings.ToUpper(code), nil
}

// GenerateCode создаёт новый канонический код вида ELIXR8967FF.
func GenerateCode(prefix string) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	return Normalize(prefix + hex.EncodeToString(buf))
}
