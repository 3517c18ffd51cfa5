package usecase

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
)

// settingsDocument is the portable settings format. Break state is not
// part of it.
type settingsDocument struct {
	ExtensionEnabled bool               `json:"isExtensionEnabled"`
	RuleGroups       []domain.RuleGroup `json:"ruleSets"`
}

// importDocument defers group decoding so one bad group cannot fail the rest.
type importDocument struct {
	ExtensionEnabled *bool             `json:"isExtensionEnabled"`
	RuleGroups       []json.RawMessage `json:"ruleSets"`
}

// ImportResult is a decoded settings document.
type ImportResult struct {
	// ExtensionEnabled is nil when the document does not mention it.
	ExtensionEnabled *bool
	Groups           []domain.RuleGroup
	Skipped          []error
}

// ExportSettings encodes cfg as an indented settings document.
func ExportSettings(cfg domain.Configuration) ([]byte, error) {
	doc := settingsDocument{
		ExtensionEnabled: cfg.ExtensionEnabled,
		RuleGroups:       make([]domain.RuleGroup, 0, len(cfg.RuleGroups)),
	}
	// Empty lists are written as [] so the document imports again. Corrupt
	// groups have no lists to write and are left out.
	for _, g := range cfg.RuleGroups {
		if g.Malformed != "" {
			continue
		}
		if g.Patterns == nil {
			g.Patterns = []string{}
		}
		if g.Windows == nil {
			g.Windows = []domain.TimeWindow{}
		}
		doc.RuleGroups = append(doc.RuleGroups, g)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return data, nil
}

// ImportSettings decodes a settings document. Only a document that is not a
// JSON object fails; malformed groups are reported in Skipped and dropped.
func ImportSettings(data []byte) (*ImportResult, error) {
	var doc importDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	result := &ImportResult{
		ExtensionEnabled: doc.ExtensionEnabled,
		Groups:           []domain.RuleGroup{},
	}
	for i, raw := range doc.RuleGroups {
		group, err := decodeGroup(raw)
		if err != nil {
			result.Skipped = append(result.Skipped, fmt.Errorf("rule group %d: %w", i, err))
			continue
		}
		result.Groups = append(result.Groups, group)
	}
	return result, nil
}

// Apply replaces the stored groups and, if the document set it, the
// enabled flag.
func (r *ImportResult) Apply(store domain.ConfigStore, logger *zap.Logger) error {
	for _, err := range r.Skipped {
		logger.Warn("skipping malformed rule group", zap.Error(err))
	}
	if err := store.ReplaceGroups(r.Groups); err != nil {
		return fmt.Errorf("failed to replace rule groups: %w", err)
	}
	if r.ExtensionEnabled != nil {
		if err := store.SetEnabled(*r.ExtensionEnabled); err != nil {
			return fmt.Errorf("failed to set enabled flag: %w", err)
		}
	}
	logger.Info("settings imported",
		zap.Int("groups", len(r.Groups)),
		zap.Int("skipped", len(r.Skipped)))
	return nil
}

// groupLists detects rule groups whose site or window list is absent or null.
type groupLists struct {
	Patterns *[]json.RawMessage `json:"urls"`
	Windows  *[]json.RawMessage `json:"times"`
}

func decodeGroup(raw json.RawMessage) (domain.RuleGroup, error) {
	var g domain.RuleGroup
	if err := json.Unmarshal(raw, &g); err != nil {
		return domain.RuleGroup{}, err
	}

	var lists groupLists
	if err := json.Unmarshal(raw, &lists); err != nil {
		return domain.RuleGroup{}, err
	}
	if lists.Patterns == nil {
		return domain.RuleGroup{}, errors.New("missing urls list")
	}
	if lists.Windows == nil {
		return domain.RuleGroup{}, errors.New("missing times list")
	}
	if err := g.Validate(); err != nil {
		return domain.RuleGroup{}, err
	}

	patterns := make([]string, 0, len(g.Patterns))
	for _, p := range g.Patterns {
		if p = policy.NormalizePattern(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	g.Patterns = patterns
	return g, nil
}
