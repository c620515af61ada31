package recommender

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"animerec/internal/domain"
)

var (
	// ErrMissingRecommendations means the reply JSON had no recommendations array.
	ErrMissingRecommendations = errors.New("missing recommendations key")
	// ErrNoValidRecommendations means every entry was dropped by validation.
	ErrNoValidRecommendations = errors.New("no valid recommendations")
)

// ParseRecommendations validates a model reply. Entries without a title,
// description or numeric score are dropped; scores are clamped to [1, 100]
// and at most MaxRecommendations entries are kept in reply order.
func ParseRecommendations(content string) ([]domain.Recommendation, error) {
	var reply struct {
		Recommendations *[]map[string]any `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Recommendations == nil {
		return nil, ErrMissingRecommendations
	}

	var recs []domain.Recommendation
	for _, entry := range *reply.Recommendations {
		rec, ok := toRecommendation(entry)
		if !ok {
			continue
		}
		recs = append(recs, rec)
		if len(recs) == MaxRecommendations {
			break
		}
	}
	if len(recs) == 0 {
		return nil, ErrNoValidRecommendations
	}
	return recs, nil
}

func toRecommendation(entry map[string]any) (domain.Recommendation, bool) {
	title, okT := entry["title"]
	desc, okD := entry["description"]
	rawScore, okS := entry["score"]
	if !okT || !okD || !okS || title == nil || desc == nil {
		return domain.Recommendation{}, false
	}
	score, ok := toScore(rawScore)
	if !ok {
		return domain.Recommendation{}, false
	}
	return domain.Recommendation{
		Anime:       toText(title),
		Description: toText(desc),
		MatchScore:  score,
		Genres:      toGenres(entry["genres"]),
		Year:        toYear(entry["year"]),
		Why:         toText(entry["why"]),
	}, true
}

func toScore(v any) (int, bool) {
	var f float64
	switch s := v.(type) {
	case float64:
		f = s
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return clamp(int(math.Max(math.Min(f, 1e6), -1e6)), 1, 100), true
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func toText(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// toGenres accepts a list or a comma-separated string.
func toGenres(v any) []string {
	genres := []string{}
	switch g := v.(type) {
	case []any:
		for _, item := range g {
			if s := strings.TrimSpace(toText(item)); s != "" {
				genres = append(genres, s)
			}
		}
	case string:
		for _, part := range strings.Split(g, ",") {
			if s := strings.TrimSpace(part); s != "" {
				genres = append(genres, s)
			}
		}
	}
	return genres
}

func toYear(v any) string {
	switch y := v.(type) {
	case float64:
		return strconv.FormatInt(int64(y), 10)
	default:
		return toText(y)
	}
}
