package elo

import (
	"math"
)

type GameResult int

const (
	Loss GameResult = 0
	Draw GameResult = 1
	Win  GameResult = 2
)

const (
	// K-factors based on number of rated games played
	KFactorNewbie = 32 // < 30 games
	KFactorActive = 24 // 30-100 games
	KFactorExpert = 16 // > 100 games

	// Rating bounds
	MinRating = 100
	MaxRating = 3000

	// DefaultRating is assigned to players with no rated history.
	DefaultRating = 1200
)

type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// CalculateNewRating returns the player's rating after one rated game.
// gamesPlayed selects the K-factor; the result is clamped to the rating
// bounds.
func (c *Calculator) CalculateNewRating(playerRating, opponentRating int, result GameResult, gamesPlayed int) int {
	kFactor := c.getKFactor(gamesPlayed)
	expectedScore := c.calculateExpectedScore(playerRating, opponentRating)

	var actualScore float64
	switch result {
	case Win:
		actualScore = 1.0
	case Draw:
		actualScore = 0.5
	case Loss:
		actualScore = 0.0
	}

	// ΔR = K × (S - E)
	ratingChange := float64(kFactor) * (actualScore - expectedScore)
	newRating := playerRating + int(math.Round(ratingChange))

	if newRating < MinRating {
		newRating = MinRating
	}
	if newRating > MaxRating {
		newRating = MaxRating
	}
	return newRating
}

// CalculateRatingChange returns just the delta, positive or negative.
func (c *Calculator) CalculateRatingChange(playerRating, opponentRating int, result GameResult, gamesPlayed int) int {
	return c.CalculateNewRating(playerRating, opponentRating, result, gamesPlayed) - playerRating
}

// calculateExpectedScore implements E = 1 / (1 + 10^((Ro - Rp) / 400)).
func (c *Calculator) calculateExpectedScore(playerRating, opponentRating int) float64 {
	exponent := float64(opponentRating-playerRating) / 400.0
	return 1.0 / (1.0 + math.Pow(10, exponent))
}

func (c *Calculator) getKFactor(gamesPlayed int) int {
	switch {
	case gamesPlayed < 30:
		return KFactorNewbie
	case gamesPlayed < 100:
		return KFactorActive
	default:
		return KFactorExpert
	}
}

// ResultsForWinner converts a finished game's winner (player ID 1, 2, or 0
// for a draw) into the per-seat results, returned as (player 1, player 2).
func ResultsForWinner(winner int) (GameResult, GameResult) {
	switch winner {
	case 1:
		return Win, Loss
	case 2:
		return Loss, Win
	default:
		return Draw, Draw
	}
}
