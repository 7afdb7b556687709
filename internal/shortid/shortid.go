package shortid

import (
	"regexp"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the set of characters issued ids are drawn from
	Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// Length of generated ids
	Length = 7
	// MaxLength is the longest id accepted on lookup
	MaxLength = 64
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// reserved ids collide with top-level routes
var reserved = []string{"api", "health", "metrics", "static", "stats", "favicon"}

// Generator produces candidate short ids
type Generator interface {
	Generate() (string, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func() (string, error)

func (f GeneratorFunc) Generate() (string, error) { return f() }

// Nanoid draws Length random characters from Alphabet
type Nanoid struct{}

// NewNanoid returns the default generator
func NewNanoid() Nanoid {
	return Nanoid{}
}

// Generate returns a random id that is never a reserved word
func (Nanoid) Generate() (string, error) {
	for {
		id, err := gonanoid.Generate(Alphabet, Length)
		if err != nil {
			return "", err
		}
		if !IsReserved(id) {
			return id, nil
		}
	}
}

// Valid reports whether id could name a stored link.
// Ids that fail this check are answered as not found without a store lookup.
func Valid(id string) bool {
	if id == "" || len(id) > MaxLength {
		return false
	}
	if !validID.MatchString(id) {
		return false
	}
	return !IsReserved(id)
}

// IsReserved reports whether id shadows a route
func IsReserved(id string) bool {
	for _, r := range reserved {
		if strings.EqualFold(id, r) {
			return true
		}
	}
	return false
}
