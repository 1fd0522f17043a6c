package engine

import "github.com/mohaanymo/vidgrab/internal/models"

// SelectTier maps a quality preference onto an index into n tiers ordered
// highest quality first. For even n, medium picks the lower-middle tier.
func SelectTier(n int, q models.Quality) int {
	if n <= 0 {
		return 0
	}
	switch q {
	case models.QualityMedium:
		return n / 2
	case models.QualityLow:
		return n - 1
	default:
		return 0
	}
}
