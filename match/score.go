package match

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"matchlink-service/model"
)

// CompatibilityScore scores a candidate pair from age proximity, shared
// interests, geographic distance and how recently the candidate was active.
// Deterministic for the same two user snapshots; the optional jitter term
// (0..1, scaled to 0..10 points) adds variety when enabled.
func CompatibilityScore(viewer, candidate *model.User, now time.Time, jitter func() float64) int {
	score := 0.0

	if viewer.DateOfBirth != nil && candidate.DateOfBirth != nil {
		ageGap := ageIn(viewer.DateOfBirth, now) - ageIn(candidate.DateOfBirth, now)
		if ageGap < 0 {
			ageGap = -ageGap
		}
		switch {
		case ageGap <= 2:
			score += 30
		case ageGap <= 5:
			score += 20
		case ageGap <= 10:
			score += 10
		}
	}

	common := commonInterests(viewer.Interests, candidate.Interests)
	points := float64(common * 10)
	if points > 40 {
		points = 40
	}
	score += points

	if viewer.Latitude != nil && viewer.Longitude != nil &&
		candidate.Latitude != nil && candidate.Longitude != nil {
		distance := haversineKm(*viewer.Latitude, *viewer.Longitude, *candidate.Latitude, *candidate.Longitude)
		switch {
		case distance <= 10:
			score += 20
		case distance <= 50:
			score += 15
		case distance <= 100:
			score += 10
		case distance <= 500:
			score += 5
		}
	}

	if candidate.LastActive != nil {
		days := now.Sub(*candidate.LastActive).Hours() / 24
		switch {
		case days <= 1:
			score += 10
		case days <= 7:
			score += 5
		}
	}

	if jitter != nil {
		score += jitter() * 10
	}

	rounded := int(math.Round(score))
	if rounded > 100 {
		rounded = 100
	}
	return rounded
}

func ageIn(dob *time.Time, now time.Time) float64 {
	return float64(now.Year() - dob.Year())
}

func commonInterests(rawA, rawB string) int {
	a := parseInterests(rawA)
	b := parseInterests(rawB)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(a))
	for _, interest := range a {
		seen[strings.ToLower(interest)] = struct{}{}
	}

	common := 0
	for _, interest := range b {
		if _, ok := seen[strings.ToLower(interest)]; ok {
			common++
		}
	}
	return common
}

func parseInterests(raw string) []string {
	if raw == "" {
		return nil
	}
	interests := []string{}
	if err := json.Unmarshal([]byte(raw), &interests); err != nil {
		return nil
	}
	return interests
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
