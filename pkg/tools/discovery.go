package tools

import (
	"sort"
	"strings"

	"github.com/ag-ui/go-dispatch/internal/utils"
)

// Relevance weights for free-text scoring.
const (
	nameWeight        = 3.0
	capabilityWeight  = 2.0
	descriptionWeight = 1.0
)

// DefaultCapabilityLexicon maps capabilities to the (stemmed) intent
// keywords that suggest them.
var DefaultCapabilityLexicon = map[Capability][]string{
	CapabilityEmailSend:       {"send", "email", "mail", "compose", "reply"},
	CapabilityEmailRead:       {"read", "inbox", "unread", "check", "email", "mail"},
	CapabilityWebSearch:       {"search", "research", "find", "lookup", "web", "google"},
	CapabilityTextPost:        {"post", "publish", "tweet", "share", "twitter", "linkedin"},
	CapabilitySummarize:       {"summary", "summarize", "summarise", "digest", "tldr"},
	CapabilityContentGenerate: {"write", "draft", "generate", "create", "content"},
	CapabilityCalendar:        {"schedule", "meeting", "calendar", "event", "invite"},
	CapabilityHTTPFetch:       {"fetch", "download", "http", "url", "get"},
	CapabilityDataTransform:   {"parse", "json", "encode", "decode", "transform", "convert", "base64"},
	CapabilityFileRead:        {"file", "path", "open", "local"},
}

// ScoredTool pairs a tool with a relevance score in [0, 1].
type ScoredTool struct {
	Tool  *Tool   `json:"tool"`
	Score float64 `json:"score"`
}

// DiscoveryFilter selects tools for DiscoverTools.
type DiscoveryFilter struct {
	// Category restricts results to one category
	Category Category

	// Capabilities matches tools declaring any of them
	Capabilities []Capability

	// Query ranks results by free-text relevance and drops non-matches
	Query string

	// Tags must all be present
	Tags []string

	// Version is a semantic version constraint
	Version string

	// Limit caps the number of results when positive
	Limit int
}

// DiscoveryService finds tools by exact name, by category/capability
// filter, or by free-text relevance against name, description and
// capability tags.
type DiscoveryService struct {
	registry *Registry
	lexicon  map[Capability][]string
}

// DiscoveryOption configures a DiscoveryService.
type DiscoveryOption func(*DiscoveryService)

// WithCapabilityLexicon replaces the intent keyword lexicon.
func WithCapabilityLexicon(lexicon map[Capability][]string) DiscoveryOption {
	return func(d *DiscoveryService) {
		d.lexicon = lexicon
	}
}

// NewDiscoveryService creates a discovery service over registry.
func NewDiscoveryService(registry *Registry, opts ...DiscoveryOption) *DiscoveryService {
	d := &DiscoveryService{
		registry: registry,
		lexicon:  DefaultCapabilityLexicon,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FindTool resolves an exact name (or id). Disabled tools are not found.
func (d *DiscoveryService) FindTool(name string) *Tool {
	tool := d.registry.Find(name)
	if tool == nil || tool.Disabled {
		return nil
	}
	return tool
}

// DiscoverTools filters tools by category and capabilities (union) and,
// when a query is given, ranks them by descending relevance.
func (d *DiscoveryService) DiscoverTools(filter DiscoveryFilter) []*Tool {
	candidates := d.registry.List(&ToolFilter{
		Category:     filter.Category,
		Capabilities: filter.Capabilities,
		Tags:         filter.Tags,
		Version:      filter.Version,
	})

	if strings.TrimSpace(filter.Query) == "" {
		return limitTools(candidates, filter.Limit)
	}

	scored := rank(candidates, utils.Tokenize(filter.Query), filter.Query)
	out := make([]*Tool, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.Tool)
	}
	return limitTools(out, filter.Limit)
}

// SearchTools ranks every enabled tool against query and returns the
// matching ones with their scores, best first.
func (d *DiscoveryService) SearchTools(query string, limit int) []ScoredTool {
	scored := rank(d.registry.List(nil), utils.Tokenize(query), query)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// MatchCapabilities returns the capabilities suggested by an intent,
// strongest first, with their keyword-hit scores normalized to [0, 1].
func (d *DiscoveryService) MatchCapabilities(intent string) []CapabilityMatch {
	tokens := utils.TokenSet(intent)
	var matches []CapabilityMatch
	for c, keywords := range d.lexicon {
		hits := 0
		for _, kw := range keywords {
			if tokens[utils.Stem(kw)] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, CapabilityMatch{
			Capability: c,
			Hits:       hits,
			Score:      float64(hits) / float64(len(tokens)),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Hits != matches[j].Hits {
			return matches[i].Hits > matches[j].Hits
		}
		return matches[i].Capability < matches[j].Capability
	})
	return matches
}

// CapabilityMatch is one capability suggested by an intent.
type CapabilityMatch struct {
	Capability Capability `json:"capability"`
	Hits       int        `json:"hits"`
	Score      float64    `json:"score"`
}

// MatchIntent resolves candidate tools for a natural-language intent.
// Tools declaring the strongest matching capabilities come first;
// when no capability matches, free-text search is the fallback.
func (d *DiscoveryService) MatchIntent(intent string, limit int) []ScoredTool {
	tokens := utils.Tokenize(intent)
	caps := d.MatchCapabilities(intent)

	if len(caps) > 0 {
		best := caps[0].Hits
		var wanted []Capability
		for _, m := range caps {
			if m.Hits == best {
				wanted = append(wanted, m.Capability)
			}
		}
		tools := d.registry.List(&ToolFilter{Capabilities: wanted})
		if len(tools) > 0 {
			scored := make([]ScoredTool, 0, len(tools))
			for _, t := range tools {
				// capability matches always outrank pure text relevance
				score := 0.5 + 0.5*relevance(t, tokens, intent)
				scored = append(scored, ScoredTool{Tool: t, Score: score})
			}
			sortScored(scored)
			if limit > 0 && len(scored) > limit {
				scored = scored[:limit]
			}
			return scored
		}
	}

	return d.SearchTools(intent, limit)
}

// rank scores tools against the query tokens and drops zero scores.
func rank(tools []*Tool, tokens []string, raw string) []ScoredTool {
	scored := make([]ScoredTool, 0, len(tools))
	for _, t := range tools {
		if s := relevance(t, tokens, raw); s > 0 {
			scored = append(scored, ScoredTool{Tool: t, Score: s})
		}
	}
	sortScored(scored)
	return scored
}

// relevance is the weighted token overlap of the query with the tool's
// name, capability tags and description, normalized to [0, 1]. An exact
// name match scores 1.
func relevance(t *Tool, tokens []string, raw string) float64 {
	if strings.EqualFold(strings.TrimSpace(raw), t.Name) {
		return 1
	}
	if len(tokens) == 0 {
		return 0
	}

	name := utils.TokenSet(t.Name + " " + t.DisplayName + " " + t.Logical())
	capText := make([]string, 0, len(t.Capabilities))
	for _, c := range t.Capabilities {
		capText = append(capText, string(c))
	}
	caps := utils.TokenSet(strings.Join(capText, " "))
	desc := utils.TokenSet(t.Description)

	score := nameWeight*float64(utils.Overlap(tokens, name)) +
		capabilityWeight*float64(utils.Overlap(tokens, caps)) +
		descriptionWeight*float64(utils.Overlap(tokens, desc))
	max := (nameWeight + capabilityWeight + descriptionWeight) * float64(len(tokens))
	return score / max
}

func sortScored(scored []ScoredTool) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Tool.ID < scored[j].Tool.ID
	})
}

func limitTools(list []*Tool, limit int) []*Tool {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
