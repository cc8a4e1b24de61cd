package provablyfair

import (
	"fmt"
	"math"
	"math/big"
)

const (
	ChamberCount      = 6
	MaxRoundsSurvived = ChamberCount - 1

	// MaxBetAmount keeps the bet and the largest payout within a signed
	// 64-bit column.
	MaxBetAmount = math.MaxInt64 / ChamberCount

	basisPoints = 10_000
)

// Multipliers holds the payout multiplier in basis points for cashing out
// after 1..MaxRoundsSurvived survived rounds: fair odds 6/(6-k) less a 3%
// house edge. The on-chain program uses the same table.
var Multipliers = [MaxRoundsSurvived]uint64{11_640, 14_550, 19_400, 29_100, 58_200}

// BulletPosition derives the losing round from the secret. Must match the
// on-chain program byte for byte.
func BulletPosition(secret [SeedSize]byte) int {
	return int(secret[0]) % ChamberCount
}

func IsLosingRound(secret [SeedSize]byte, round int) (bool, error) {
	if round < 0 || round >= ChamberCount {
		return false, fmt.Errorf("round %d out of range [0, %d]", round, ChamberCount-1)
	}
	return BulletPosition(secret) == round, nil
}

func ValidRoundsSurvived(rounds int) bool {
	return rounds >= 1 && rounds <= MaxRoundsSurvived
}

func CalculatePayout(bet uint64, roundsSurvived int) (uint64, error) {
	if !ValidRoundsSurvived(roundsSurvived) {
		return 0, fmt.Errorf("rounds survived %d out of range [1, %d]", roundsSurvived, MaxRoundsSurvived)
	}

	// big.Int keeps bet*multiplier from overflowing for large lamport bets.
	payout := new(big.Int).SetUint64(bet)
	payout.Mul(payout, new(big.Int).SetUint64(Multipliers[roundsSurvived-1]))
	payout.Quo(payout, big.NewInt(basisPoints))

	if !payout.IsUint64() {
		return 0, fmt.Errorf("payout overflows for bet %d", bet)
	}
	return payout.Uint64(), nil
}
