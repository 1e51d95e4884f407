// Package qrcode encodes verification and client links as PNG QR codes.
package qrcode

import (
	"errors"
	"strings"
	"unicode"

	goqrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultSize = 256
	MinSize     = 64
	MaxSize     = 1024
)

var ErrEmptyPayload = errors.New("qrcode: payload is required")

// Encode renders payload as a PNG with medium error recovery. Sizes outside
// [MinSize, MaxSize] are clamped. The output depends only on payload and
// size.
func Encode(payload string, size int) ([]byte, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyPayload
	}
	switch {
	case size <= 0:
		size = DefaultSize
	case size < MinSize:
		size = MinSize
	case size > MaxSize:
		size = MaxSize
	}
	return goqrcode.Encode(payload, goqrcode.Medium, size)
}

// LinkPayload returns what a client QR code should open: a WhatsApp chat when
// a number is set, otherwise the link itself.
func LinkPayload(link, whatsapp string) string {
	if digits := Digits(whatsapp); digits != "" {
		return "https://wa.me/" + digits
	}
	return strings.TrimSpace(link)
}

// Digits strips everything but ASCII digits from a phone number.
func Digits(phone string) string {
	var builder strings.Builder
	for _, r := range phone {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
