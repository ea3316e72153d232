// Package codec implements the opaque link-token format used to address
// archived media: a deflate-compressed JSON payload, base62-encoded so it is
// safe to drop straight into a URL path segment.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
)

const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const archiveIDPrefix = "-100"

// ErrBadToken is returned for any token that fails to decode to a well
// formed Payload: malformed base62, corrupt deflate stream, or malformed
// JSON.
var ErrBadToken = errors.New("bad token")

// Payload is the decoded content of a link token.
type Payload struct {
	MsgID  int    `json:"msg_id"`
	ChatID string `json:"chat_id"`
}

// Encode builds a link token for the given archive and message.
func Encode(archiveID int64, msgID int) (string, error) {
	payload := Payload{MsgID: msgID, ChatID: NormalizeArchiveID(archiveID)}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	compressed, err := deflate(raw)
	if err != nil {
		return "", fmt.Errorf("compress payload: %w", err)
	}
	return base62Encode(compressed), nil
}

// Decode recovers the Payload carried by a link token.
func Decode(token string) (Payload, error) {
	if token == "" {
		return Payload{}, ErrBadToken
	}
	compressed, err := base62Decode(token)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	raw, err := inflate(compressed)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if payload.ChatID == "" {
		return Payload{}, ErrBadToken
	}
	return payload, nil
}

// NormalizeArchiveID strips the chat-platform's fixed "-100" channel-ID
// prefix so the token's chat_id field stores the shorter canonical form.
func NormalizeArchiveID(archiveID int64) string {
	s := strconv.FormatInt(archiveID, 10)
	if strings.HasPrefix(s, archiveIDPrefix) {
		return s[len(archiveIDPrefix):]
	}
	return s
}

// DenormalizeArchiveID reverses NormalizeArchiveID: values without a leading
// minus sign get the "-100" prefix restored before parsing. A positive
// archive ID therefore comes back in its "-100"-prefixed form.
func DenormalizeArchiveID(chatID string) (int64, error) {
	if !strings.HasPrefix(chatID, "-") {
		chatID = archiveIDPrefix + chatID
	}
	return strconv.ParseInt(chatID, 10, 64)
}

func deflate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	return io.ReadAll(r)
}

func base62Encode(data []byte) string {
	num := new(big.Int).SetBytes(data)
	if num.Sign() == 0 {
		return "0"
	}
	base := big.NewInt(int64(len(base62Alphabet)))
	mod := new(big.Int)
	var digits []byte
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		digits = append(digits, base62Alphabet[mod.Int64()])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

func base62Decode(s string) ([]byte, error) {
	num := new(big.Int)
	base := big.NewInt(int64(len(base62Alphabet)))
	for _, r := range s {
		idx := strings.IndexRune(base62Alphabet, r)
		if idx < 0 {
			return nil, fmt.Errorf("invalid base62 character %q", r)
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(idx)))
	}
	return num.Bytes(), nil
}
