package inventory

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document number prefixes.
type NumberPrefixes struct {
	Sale   string
	Return string
	Intake string
}

var DefaultPrefixes = NumberPrefixes{Sale: "SO", Return: "RT", Intake: "PO"}

func (p NumberPrefixes) withDefaults() NumberPrefixes {
	if p.Sale == "" {
		p.Sale = DefaultPrefixes.Sale
	}
	if p.Return == "" {
		p.Return = DefaultPrefixes.Return
	}
	if p.Intake == "" {
		p.Intake = DefaultPrefixes.Intake
	}
	return p
}

// numberAttempts is how many suffixes are tried inside one transaction
// before the collision is handed to the outer retry loop.
const numberAttempts = 8

// FormatNumber renders <prefix><YYMMDD><6-digit suffix>.
func FormatNumber(prefix string, at time.Time, suffix uint32) string {
	return fmt.Sprintf("%s%s%06d", prefix, at.UTC().Format("060102"), suffix%1_000_000)
}

func randomSuffix() uint32 {
	id := uuid.New()
	return binary.BigEndian.Uint32(id[:4])
}

// allocateNumber finds an unused document number. The unique index on
// every number column remains the final guard.
func allocateNumber(ctx context.Context, s OrderStore, prefix string, at time.Time, suffix func() uint32) (string, error) {
	for i := 0; i < numberAttempts; i++ {
		n := FormatNumber(prefix, at, suffix())
		taken, err := s.NumberTaken(ctx, n)
		if err != nil {
			return "", err
		}
		if !taken {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: prefix %s", ErrDuplicateOrderNumber, prefix)
}
