package sales

import (
	"math"
	"math/bits"

	"koperasi/backend/internal/domain"
)

// Subtotal is quantity*basePrice + donation in minor currency units.
func Subtotal(quantity int, basePriceCents int64, donationCents int64) int64 {
	return int64(quantity)*basePriceCents + donationCents
}

// Aggregate sums line extensions into sale totals. An empty list yields zero
// totals. Callers must have passed the lines through checkTotals.
func Aggregate(lines []domain.SaleLineInput) domain.Totals {
	var totals domain.Totals
	for _, line := range lines {
		totals.BaseCents += int64(line.Quantity) * line.BasePriceCents
		totals.DonationCents += line.DonationCents
	}
	totals.GrandCents = totals.BaseCents + totals.DonationCents
	return totals
}

// checkTotals reports the index of the first line whose extension, subtotal
// or contribution to the running totals does not fit in int64, or -1.
// Quantities and amounts are assumed non-negative.
func checkTotals(lines []domain.SaleLineInput) int {
	var base, donation int64
	for i, line := range lines {
		ext, ok := mulNonNeg(int64(line.Quantity), line.BasePriceCents)
		if !ok {
			return i
		}
		if _, ok := addNonNeg(ext, line.DonationCents); !ok {
			return i
		}
		if base, ok = addNonNeg(base, ext); !ok {
			return i
		}
		if donation, ok = addNonNeg(donation, line.DonationCents); !ok {
			return i
		}
		if _, ok := addNonNeg(base, donation); !ok {
			return i
		}
	}
	return -1
}

func mulNonNeg(a, b int64) (int64, bool) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func addNonNeg(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
