package knowledge

import (
	"math"
	"strconv"
	"strings"
)

const topTagLimit = 5

// ComputeStats derives Stats from blocks ordered newest first.
func ComputeStats(blocks []WisdomBlock) Stats {
	var minutes, usage, success int
	seen := make(map[string]struct{})
	topTags := make([]string, 0, topTagLimit)

	for _, b := range blocks {
		minutes += b.TimeSavedMinutes
		usage += b.UsageCount
		success += b.SuccessCount
		for _, tag := range b.Tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			if len(topTags) < topTagLimit {
				topTags = append(topTags, tag)
			}
		}
	}

	accuracy := 0
	if usage > 0 {
		accuracy = int(math.Round(float64(success) / float64(usage) * 100))
	}

	return Stats{
		TotalFixes:     len(blocks),
		TimeSavedHours: strconv.FormatFloat(float64(minutes)/60, 'f', 1, 64),
		TopTags:        topTags,
		AccuracyRate:   accuracy,
	}
}

// Search returns blocks whose title or any tag contains query, case-insensitively.
func Search(blocks []WisdomBlock, query string) []WisdomBlock {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []WisdomBlock
	for _, b := range blocks {
		if strings.Contains(strings.ToLower(b.Title), q) {
			out = append(out, b)
			continue
		}
		for _, tag := range b.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// MergeTags returns the union of the given tag lists, preserving first-seen order.
func MergeTags(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, tag := range list {
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
