// Package registry loads agent card descriptors from disk and answers
// capability queries against them. The registry is immutable after Load;
// concurrent readers need no synchronization.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/budprat/agentic-5-sub002/runtime/a2a"
	"github.com/budprat/agentic-5-sub002/runtime/logger"
)

// Agent tiers. Tier 1 agents orchestrate, tier 2 agents are domain
// specialists, tier 3 agents wrap non-LLM services.
const (
	TierOrchestrator = 1
	TierSpecialist   = 2
	TierService      = 3
)

// ErrAgentNotFound is returned by Get for an unknown agent id.
var ErrAgentNotFound = errors.New("registry: agent not found")

// Registry holds the loaded agent cards keyed by agent id.
type Registry struct {
	cards map[string]*a2a.AgentCard
	order []string
}

// Load reads every *.json file in dir as an agent card. Files that fail to
// parse or validate abort the load; a registry is either complete or absent.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("registry: read dir %s: %w", dir, err)
	}

	r := &Registry{cards: make(map[string]*a2a.AgentCard)}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("registry: read %s: %w", path, err)
		}
		var card a2a.AgentCard
		if err := json.Unmarshal(data, &card); err != nil {
			return nil, fmt.Errorf("registry: parse %s: %w", path, err)
		}
		if err := r.add(&card); err != nil {
			return nil, fmt.Errorf("registry: %s: %w", path, err)
		}
	}

	logger.Info("agent registry loaded", "dir", dir, "agents", len(r.order))
	return r, nil
}

// FromCards builds a registry from in-memory cards. Used by tests and by
// embedders that manage card storage themselves.
func FromCards(cards ...*a2a.AgentCard) (*Registry, error) {
	r := &Registry{cards: make(map[string]*a2a.AgentCard)}
	for _, card := range cards {
		if err := r.add(card); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(card *a2a.AgentCard) error {
	if err := validateCard(card); err != nil {
		return err
	}
	if _, dup := r.cards[card.AgentID]; dup {
		return fmt.Errorf("duplicate agent id %q", card.AgentID)
	}
	r.cards[card.AgentID] = card
	r.order = append(r.order, card.AgentID)
	return nil
}

func validateCard(card *a2a.AgentCard) error {
	switch {
	case card.AgentID == "":
		return errors.New("agent_id is required")
	case card.Host == "":
		return fmt.Errorf("agent %q: host is required", card.AgentID)
	case card.Port <= 0 || card.Port > 65535:
		return fmt.Errorf("agent %q: invalid port %d", card.AgentID, card.Port)
	case card.Tier < TierOrchestrator || card.Tier > TierService:
		return fmt.Errorf("agent %q: invalid tier %d", card.AgentID, card.Tier)
	}
	return nil
}

// Get returns the card for the given agent id.
func (r *Registry) Get(agentID string) (*a2a.AgentCard, error) {
	card, ok := r.cards[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return card, nil
}

// All returns every card in load order.
func (r *Registry) All() []*a2a.AgentCard {
	out := make([]*a2a.AgentCard, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.cards[id])
	}
	return out
}

// ByTier returns the cards of one tier, in load order.
func (r *Registry) ByTier(tier int) []*a2a.AgentCard {
	var out []*a2a.AgentCard
	for _, id := range r.order {
		if r.cards[id].Tier == tier {
			out = append(out, r.cards[id])
		}
	}
	return out
}

// Specialists returns the tier-2 cards.
func (r *Registry) Specialists() []*a2a.AgentCard {
	return r.ByTier(TierSpecialist)
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.order)
}

// Capabilities returns the sorted union of all specialist capability tags.
func (r *Registry) Capabilities() []string {
	seen := make(map[string]struct{})
	for _, card := range r.cards {
		for _, cap := range card.Capabilities {
			seen[cap] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for cap := range seen {
		out = append(out, cap)
	}
	sort.Strings(out)
	return out
}
