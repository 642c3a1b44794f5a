package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// ErrGeneration is returned when GenerateStrong cannot satisfy a policy.
var ErrGeneration = errors.New("password: generation failed")

// GenerateStrong returns a random password of length characters that meets
// every class p requires. One character of each required class is drawn
// first, the rest come from the union of enabled classes, and the result is
// shuffled so required characters carry no positional bias.
//
// A required symbol class with an empty Symbols alphabet is an empty class
// and fails with ErrGeneration. A nil random uses crypto/rand.
func GenerateStrong(random io.Reader, length int, p Policy) (string, error) {
	if random == nil {
		random = rand.Reader
	}

	type class struct {
		name     string
		alphabet string
		required bool
	}
	classes := []class{
		{"lowercase", lowerAlphabet, p.RequireLower},
		{"uppercase", upperAlphabet, p.RequireUpper},
		{"digit", digitAlphabet, p.RequireDigit},
		{"symbol", p.Symbols, p.RequireSymbol},
	}

	var (
		required []string
		union    string
	)
	for _, c := range classes {
		if c.required && c.alphabet == "" {
			return "", fmt.Errorf("%w: %s class is empty", ErrGeneration, c.name)
		}
		if c.required {
			required = append(required, c.alphabet)
		}
		union += c.alphabet
	}
	if union == "" {
		return "", fmt.Errorf("%w: no characters available", ErrGeneration)
	}
	if length < len(required) {
		return "", fmt.Errorf("%w: length %d cannot hold %d required classes", ErrGeneration, length, len(required))
	}
	if length < p.MinLength || (p.MaxLength > 0 && length > p.MaxLength) {
		return "", fmt.Errorf("%w: length %d outside policy bounds", ErrGeneration, length)
	}

	out := make([]byte, 0, length)
	for _, alphabet := range required {
		ch, err := pick(random, alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}
	for len(out) < length {
		ch, err := pick(random, union)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := randomIndex(random, i+1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

func pick(random io.Reader, alphabet string) (byte, error) {
	i, err := randomIndex(random, len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randomIndex(random io.Reader, n int) (int, error) {
	v, err := rand.Int(random, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return int(v.Int64()), nil
}
