package inventory_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/warp/unit-ledger/inventory"
)

func TestCheckIMEI(t *testing.T) {
	tests := []struct {
		name string
		imei string
		want string
	}{
		{"valid", "490154203237518", ""},
		{"valid generated", makeIMEI(42), ""},
		{"bad check digit", "490154203237519", inventory.ReasonChecksum},
		{"too short", "49015420323751", inventory.ReasonFormat},
		{"too long", "4901542032375180", inventory.ReasonFormat},
		{"letters", "49015420323751A", inventory.ReasonFormat},
		{"spaces", "490154 03237518", inventory.ReasonFormat},
		{"empty", "", inventory.ReasonFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inventory.CheckIMEI(tt.imei))
		})
	}
}

func TestLuhnValid_RejectsNonDigits(t *testing.T) {
	assert.False(t, inventory.LuhnValid(""))
	assert.False(t, inventory.LuhnValid("12a4"))
	assert.True(t, inventory.LuhnValid("79927398713"))
}

func TestLuhnCheckDigit_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("appending the check digit yields a valid IMEI", prop.ForAll(
		func(n int64) bool {
			body := fmt.Sprintf("%014d", n)
			return inventory.CheckIMEI(body+string(inventory.LuhnCheckDigit(body))) == ""
		},
		gen.Int64Range(0, 99_999_999_999_999),
	))

	properties.Property("changing one digit breaks the checksum", prop.ForAll(
		func(n int64, pos int, delta int) bool {
			body := fmt.Sprintf("%014d", n)
			imei := []byte(body + string(inventory.LuhnCheckDigit(body)))
			imei[pos] = byte('0' + (int(imei[pos]-'0')+delta)%10)
			return inventory.CheckIMEI(string(imei)) == inventory.ReasonChecksum
		},
		gen.Int64Range(0, 99_999_999_999_999),
		gen.IntRange(0, inventory.IMEILength-1),
		gen.IntRange(1, 9),
	))

	properties.TestingRun(t)
}
