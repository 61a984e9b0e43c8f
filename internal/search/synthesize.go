package search

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"opensearch-proxy-go/internal/model"
)

// Corpus is the fixed document set behind every locally synthesized
// response. Order matters: hit ids are 1-based positions in this list.
var Corpus = []string{
	"Through the fire, to the limit, to the wall, For a chance to be with you, I'd gladly risk it all.",
	"You tell me you're gonna play it smart, We're through before we start, But I believe that we've only just begun",
	"When it's this good, there's no saying no",
}

// Response body types, shaped like an OpenSearch search response.

type searchResponse struct {
	Took     int        `json:"took"`
	TimedOut bool       `json:"timed_out"`
	Shards   shardStats `json:"_shards"`
	Hits     hitsBlock  `json:"hits"`
}

type shardStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type hitsBlock struct {
	Total    hitsTotal `json:"total"`
	MaxScore float64   `json:"max_score"`
	Hits     []hit     `json:"hits"`
}

type hitsTotal struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}

type hit struct {
	Index   string    `json:"_index"`
	ID      string    `json:"_id"`
	Version int       `json:"_version"`
	Score   float64   `json:"_score"`
	Source  hitSource `json:"_source"`
}

type hitSource struct {
	Description string `json:"Description"`
}

// Synthesize builds the canned search response for a parsed request. A
// non-empty MultiMatch is split on spaces into tokens; an entry survives
// when it contains any token as a literal case-sensitive substring. Hits
// keep corpus order and all score 0.0 (no ranking). The X-Opaque-Id of the
// originating request, when present, is echoed verbatim.
func Synthesize(parsed ParsedSearchRequest, reqHeader http.Header) (*model.ResponseEnvelope, error) {
	hits := make([]hit, 0, len(Corpus))
	for i, entry := range Corpus {
		if !matches(entry, parsed.MultiMatch) {
			continue
		}
		version := 1
		if i == 0 {
			// Fixture artifact of how the corpus was first indexed;
			// monitoring dashboards depend on the exact value.
			version = 5
		}
		hits = append(hits, hit{
			Index:   "my-first-index",
			ID:      strconv.Itoa(i + 1),
			Version: version,
			Score:   0.0,
			Source:  hitSource{Description: entry},
		})
	}

	body, err := json.Marshal(searchResponse{
		Took:     0,
		TimedOut: false,
		Shards:   shardStats{Total: 1, Successful: 1, Skipped: 0, Failed: 0},
		Hits: hitsBlock{
			Total:    hitsTotal{Value: len(hits), Relation: "eq"},
			MaxScore: 0.0,
			Hits:     hits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error serializing response: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json; charset=UTF-8")
	if vals := reqHeader.Values("X-Opaque-Id"); len(vals) > 0 {
		header["X-Opaque-Id"] = vals
	}

	return &model.ResponseEnvelope{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       body,
	}, nil
}

// matches reports whether entry survives the multi_match filter. An empty
// query matches everything.
func matches(entry, multiMatch string) bool {
	if multiMatch == "" {
		return true
	}
	for _, token := range strings.Split(multiMatch, " ") {
		if strings.Contains(entry, token) {
			return true
		}
	}
	return false
}
