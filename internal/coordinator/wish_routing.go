package coordinator

import "strings"

// RouteIntent is the outcome of classifying a free-text request into a
// port (a "WISH" — a routing guess a daemon can act on or override).
type RouteIntent struct {
	PrimaryPort  string   `json:"primary_port"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives"`
}

// keywordPort pairs one lowercase keyword with the port it suggests.
// Every keyword hit on the text contributes a vote to its port; ports
// are ranked by vote count, and ports with equal votes keep the order
// in which their first matching keyword appears in this table, so on a
// tie the earlier port becomes the primary match.
var keywordPort = []struct {
	Keyword string
	Port    string
}{
	{"observe", "P0"}, {"watch", "P0"}, {"telemetry", "P0"}, {"metrics", "P0"},
	{"bridge", "P1"}, {"adapter", "P1"}, {"connect", "P1"},
	{"shape", "P2"}, {"plan", "P2"}, {"design", "P2"},
	{"inject", "P3"}, {"deploy", "P3"}, {"mutate", "P3"},
	{"disrupt", "P4"}, {"chaos", "P4"}, {"red team", "P4"}, {"attack", "P4"},
	{"immunize", "P5"}, {"patch", "P5"}, {"harden", "P5"}, {"defense", "P5"},
	{"assimilate", "P6"}, {"ingest", "P6"}, {"embed", "P6"}, {"index", "P6"},
	{"navigate", "P7"}, {"route", "P7"}, {"wish", "P7"}, {"intent", "P7"},
}

// DefaultWishPort is the port RouteWishIntent falls back to when no
// keyword in the table matches the text; the fallback confidence is the
// caller's defaultConfidence.
const DefaultWishPort = "P7"

// RouteWishIntent scores text against the keyword table and returns the
// best-matching port, with runners-up as alternatives. An empty or
// no-match text returns DefaultWishPort at defaultConfidence.
func RouteWishIntent(text string, defaultConfidence float64) RouteIntent {
	lower := strings.ToLower(text)
	votes := make(map[string]int)
	order := make([]string, 0)

	for _, kp := range keywordPort {
		if strings.Contains(lower, kp.Keyword) {
			if _, seen := votes[kp.Port]; !seen {
				order = append(order, kp.Port)
			}
			votes[kp.Port]++
		}
	}

	if len(order) == 0 {
		return RouteIntent{PrimaryPort: DefaultWishPort, Confidence: defaultConfidence}
	}

	sortPortsByVotesDesc(order, votes)
	total := 0
	for _, v := range votes {
		total += v
	}

	confidence := float64(votes[order[0]]) / float64(total)
	alts := order[1:]
	if len(alts) > 3 {
		alts = alts[:3]
	}
	return RouteIntent{PrimaryPort: order[0], Confidence: confidence, Alternatives: alts}
}

func sortPortsByVotesDesc(ports []string, votes map[string]int) {
	for i := 1; i < len(ports); i++ {
		for j := i; j > 0 && votes[ports[j]] > votes[ports[j-1]]; j-- {
			ports[j], ports[j-1] = ports[j-1], ports[j]
		}
	}
}
