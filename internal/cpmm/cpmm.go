// Package cpmm implements the constant-product market maker (CPMM) pricing
// math for binary outcome pools.
//
// A pool holds two complementary reserves (YES and NO). The product
// k = yes_reserve * no_reserve is held constant across a trade, up to growth
// from the trading fee, which is skimmed on the input side for buys and on
// the gross payout for sells. That placement is what makes k monotonically
// non-decreasing.
//
// All quantities are unsigned 128-bit integers carried in uint256.Int
// values, never float64 for money. Because every input is bounded to 128
// bits, intermediate products fit in 256 bits and cannot wrap; results are
// re-checked against the 128-bit range before they are returned.
package cpmm

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	// BpsDenominator is the basis-point scale: 10000 bps = 100%.
	BpsDenominator = 10000

	// MaxFeeBps is the highest configurable trading fee (10%). A pool
	// charging more than this is a configuration error, not a market.
	MaxFeeBps = 1000

	// DefaultFeeBps is the default trading fee (0.2%).
	DefaultFeeBps = 20
)

var (
	// ErrInvalidFee is returned when the fee rate exceeds MaxFeeBps.
	ErrInvalidFee = errors.New("cpmm: fee must not exceed 1000 basis points")

	// ErrValueRange is returned when an input or computed quantity does
	// not fit in an unsigned 128-bit integer.
	ErrValueRange = errors.New("cpmm: value exceeds 128-bit range")

	// ErrEmptyReserve is returned when a quote is requested against a
	// zero reserve.
	ErrEmptyReserve = errors.New("cpmm: reserve must be positive")
)

var bpsDen = uint256.NewInt(BpsDenominator)

// FitsUint128 reports whether x is within the unsigned 128-bit range.
func FitsUint128(x *uint256.Int) bool {
	return x.BitLen() <= 128
}

// Pricer computes buy and sell quotes at a fixed fee rate. It is stateless;
// reserves are passed as arguments, not stored.
type Pricer struct {
	feeBps uint64
}

// NewPricer creates a Pricer with the given fee rate in basis points.
func NewPricer(feeBps uint32) (Pricer, error) {
	if feeBps > MaxFeeBps {
		return Pricer{}, ErrInvalidFee
	}
	return Pricer{feeBps: uint64(feeBps)}, nil
}

// FeeBps returns the configured fee rate.
func (p Pricer) FeeBps() uint32 {
	return uint32(p.feeBps)
}

// fee returns amount * feeBps / 10000, truncating.
func (p Pricer) fee(amount *uint256.Int) *uint256.Int {
	f := new(uint256.Int).Mul(amount, uint256.NewInt(p.feeBps))
	return f.Div(f, bpsDen)
}

// QuoteBuy prices a buy of amountIn collateral against the given reserves:
//
//	fee        = amountIn * feeBps / 10000
//	afterFee   = amountIn - fee
//	sharesOut  = afterFee * reserveOut / (reserveIn + afterFee)
//
// For a YES buy, reserveIn is the NO reserve and reserveOut the YES reserve
// (the payment is absorbed into the opposite-side reserve while the bought
// side is drawn down); symmetric for a NO buy. sharesOut is strictly less
// than reserveOut, so the bought reserve can never be drained to zero by a
// buy.
func (p Pricer) QuoteBuy(reserveIn, reserveOut, amountIn *uint256.Int) (fee, sharesOut *uint256.Int, err error) {
	if err := checkU128(reserveIn, reserveOut, amountIn); err != nil {
		return nil, nil, err
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, nil, ErrEmptyReserve
	}

	fee = p.fee(amountIn)
	afterFee := new(uint256.Int).Sub(amountIn, fee)

	num := new(uint256.Int).Mul(afterFee, reserveOut)
	den := new(uint256.Int).Add(reserveIn, afterFee)
	if !FitsUint128(den) {
		return nil, nil, ErrValueRange
	}
	sharesOut = num.Div(num, den)
	return fee, sharesOut, nil
}

// QuoteSell prices a sale of sharesIn shares back to the pool:
//
//	gross = sharesIn * reserveOut / (reserveIn + sharesIn)
//	fee   = gross * feeBps / 10000
//	net   = gross - fee
//
// reserveIn is the reserve of the outcome being sold, reserveOut the
// opposite reserve the payout is drawn from. gross is strictly less than
// reserveOut.
func (p Pricer) QuoteSell(reserveIn, reserveOut, sharesIn *uint256.Int) (gross, fee, net *uint256.Int, err error) {
	if err := checkU128(reserveIn, reserveOut, sharesIn); err != nil {
		return nil, nil, nil, err
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, nil, nil, ErrEmptyReserve
	}

	num := new(uint256.Int).Mul(sharesIn, reserveOut)
	den := new(uint256.Int).Add(reserveIn, sharesIn)
	if !FitsUint128(den) {
		return nil, nil, nil, ErrValueRange
	}
	gross = num.Div(num, den)

	fee = p.fee(gross)
	net = new(uint256.Int).Sub(gross, fee)
	return gross, fee, net, nil
}

// K returns the constant-product invariant yes * no. Trading fees cause K
// to grow; a computed trade that would shrink it must be rejected.
func K(yes, no *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(yes, no)
}

// Odds derives display odds in basis points from the reserves. Odds are
// inversely proportional to a share's own reserve: a scarce YES reserve
// means YES shares are expensive, so yes_bps is computed from the NO
// reserve. The rounding residue is assigned to the larger side so the pair
// always sums to exactly 10000.
//
// Degenerate states are mapped to fixed values: both reserves zero is a
// neutral 50/50, and a single-sided pool maximally favors the nonzero side.
func Odds(yes, no *uint256.Int) (yesBps, noBps uint32) {
	switch {
	case yes.IsZero() && no.IsZero():
		return 5000, 5000
	case yes.IsZero():
		return 0, 10000
	case no.IsZero():
		return 10000, 0
	}

	total := new(uint256.Int).Add(yes, no)

	y := new(uint256.Int).Mul(no, bpsDen)
	y.Div(y, total)
	n := new(uint256.Int).Mul(yes, bpsDen)
	n.Div(n, total)

	yesBps = uint32(y.Uint64())
	noBps = uint32(n.Uint64())

	if residue := uint32(BpsDenominator) - yesBps - noBps; residue != 0 {
		if yesBps >= noBps {
			yesBps += residue
		} else {
			noBps += residue
		}
	}
	return yesBps, noBps
}

func checkU128(values ...*uint256.Int) error {
	for _, v := range values {
		if !FitsUint128(v) {
			return ErrValueRange
		}
	}
	return nil
}
