package lean

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// allTiers lists the resolution tiers in engine layout order.
var allTiers = []string{TierMinute, TierHour, TierDaily}

// ConvertedSet summarises the artifacts present for one symbol at one tier.
type ConvertedSet struct {
	Tier      string
	Symbol    string
	Files     int
	SizeBytes int64
}

// ListConverted inventories the artifacts under the data root, grouped by
// tier and symbol.
func (c *Converter) ListConverted() ([]ConvertedSet, error) {
	var sets []ConvertedSet

	for _, tier := range allTiers {
		dir := filepath.Join(c.cfg.Root, "crypto", c.cfg.Provider, tier)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		for _, entry := range entries {
			if entry.IsDir() {
				// Minute tier: one directory per symbol full of daily zips.
				set, err := summariseDir(filepath.Join(dir, entry.Name()), tier, entry.Name())
				if err != nil {
					return nil, err
				}
				if set.Files > 0 {
					sets = append(sets, set)
				}
				continue
			}
			// Hour/daily tier: consolidated zips live directly in the tier
			// directory, one per symbol.
			if !strings.HasSuffix(entry.Name(), ".zip") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return nil, err
			}
			sets = append(sets, ConvertedSet{
				Tier:      tier,
				Symbol:    strings.TrimSuffix(entry.Name(), ".zip"),
				Files:     1,
				SizeBytes: info.Size(),
			})
		}
	}

	sort.Slice(sets, func(i, j int) bool {
		if sets[i].Tier != sets[j].Tier {
			return sets[i].Tier < sets[j].Tier
		}
		return sets[i].Symbol < sets[j].Symbol
	})
	return sets, nil
}

// Clean removes converted artifacts. Empty symbol or tier matches
// everything; symbols are matched case-insensitively. Returns the number of
// archive files removed.
func (c *Converter) Clean(symbol, tier string) (int, error) {
	symbol = strings.ToLower(symbol)
	removed := 0

	for _, t := range allTiers {
		if tier != "" && t != tier {
			continue
		}
		dir := filepath.Join(c.cfg.Root, "crypto", c.cfg.Provider, t)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, err
		}

		for _, entry := range entries {
			if entry.IsDir() {
				if symbol != "" && entry.Name() != symbol {
					continue
				}
				set, err := summariseDir(filepath.Join(dir, entry.Name()), t, entry.Name())
				if err != nil {
					return removed, err
				}
				if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
					return removed, err
				}
				removed += set.Files
				continue
			}

			if !strings.HasSuffix(entry.Name(), ".zip") {
				continue
			}
			if symbol != "" && strings.TrimSuffix(entry.Name(), ".zip") != symbol {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}

	if removed > 0 {
		c.logger.Info("cleaned converted data", "symbol", symbol, "tier", tier, "files", removed)
	}
	return removed, nil
}

// summariseDir counts the zip archives in one minute-tier symbol directory.
func summariseDir(dir, tier, symbol string) (ConvertedSet, error) {
	set := ConvertedSet{Tier: tier, Symbol: symbol}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return set, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return set, err
		}
		set.Files++
		set.SizeBytes += info.Size()
	}
	return set, nil
}
