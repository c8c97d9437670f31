package assembler

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

const truncationMarker = " [truncated]"

// minCriticalRunes is the prefix a critical item keeps when its share of
// the budget rounds down to nothing
const minCriticalRunes = 8

// Select fills budget tokens with items, critical tier first. Critical
// items are always kept and shortened when they alone exceed the budget.
// A budget too small to give each of them a token keeps a short prefix of
// every critical item and is exceeded.
// The remaining tiers are filled in order until an item no longer fits;
// everything after that point is folded into one aggregate note.
func (a *Assembler) Select(items []ContextItem, budget int) Result {
	items = dedupe(items)

	var critical, rest []ContextItem
	for _, it := range items {
		if it.Tier == TierCritical {
			critical = append(critical, it)
		} else {
			rest = append(rest, it)
		}
	}
	sortByPriority(rest)

	res := Result{Budget: budget}
	res.Items, res.Tokens, res.Truncated = a.fitCritical(critical, budget)

	remaining := budget - res.Tokens
	kept, leftover := a.fill(rest, remaining)
	if len(leftover) > 0 {
		// Retry with room for the note.
		reserve := a.opts.NoteReserveTokens
		if reserve > remaining {
			reserve = remaining
		}
		kept, leftover = a.fill(rest, remaining-reserve)
		used := 0
		for _, it := range kept {
			used += a.counter.Count(it.Content)
		}
		if note, ok := a.aggregateNote(leftover, remaining-used); ok {
			kept = append(kept, note)
		}
		res.Summarized = len(leftover)
		a.log.Debug("summarized %d context items into a note", len(leftover))
	}

	for _, it := range kept {
		res.Items = append(res.Items, it)
		res.Tokens += a.counter.Count(it.Content)
	}
	return res
}

func (a *Assembler) fitCritical(critical []ContextItem, budget int) ([]ContextItem, int, bool) {
	total := 0
	for _, it := range critical {
		total += a.counter.Count(it.Content)
	}
	if total <= budget {
		return append([]ContextItem(nil), critical...), total, false
	}

	out := make([]ContextItem, 0, len(critical))
	used := 0
	for i, it := range critical {
		share := (budget - used) / (len(critical) - i)
		if share < 0 {
			share = 0
		}
		if a.counter.Count(it.Content) > share {
			short := a.truncate(it.Content, share)
			if short == "" && it.Content != "" {
				short = strings.TrimRightFunc(prefixRunes(it.Content, minCriticalRunes), unicode.IsSpace) + truncationMarker
			}
			it.Content = short
			it.Truncated = true
		}
		used += a.counter.Count(it.Content)
		out = append(out, it)
	}
	a.log.Warn("critical context exceeded budget (%d > %d tokens), truncated", total, budget)
	return out, used, true
}

func (a *Assembler) fill(items []ContextItem, budget int) (kept, leftover []ContextItem) {
	used := 0
	for i, it := range items {
		cost := a.counter.Count(it.Content)
		if used+cost > budget {
			return kept, items[i:]
		}
		used += cost
		kept = append(kept, it)
	}
	return kept, nil
}

// truncate shortens text to at most limit tokens, appending a marker when it fits
func (a *Assembler) truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if a.counter.Count(text) <= limit {
		return text
	}

	cut := func(n int) string {
		return strings.TrimRightFunc(prefixRunes(text, n), func(r rune) bool { return r == ' ' || r == '\n' })
	}

	// Largest rune prefix that still fits with the marker.
	lo, hi := 0, utf8.RuneCountInString(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if a.counter.Count(cut(mid)+truncationMarker) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo > 0 {
		return cut(lo) + truncationMarker
	}

	lo, hi = 0, utf8.RuneCountInString(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if a.counter.Count(prefixRunes(text, mid)) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return prefixRunes(text, lo)
}

func (a *Assembler) aggregateNote(leftover []ContextItem, limit int) (ContextItem, bool) {
	if len(leftover) == 0 || limit <= 0 {
		return ContextItem{}, false
	}

	counts := make(map[ItemType]int)
	var order []ItemType
	for _, it := range leftover {
		if counts[it.Type] == 0 {
			order = append(order, it.Type)
		}
		counts[it.Type]++
	}
	parts := make([]string, 0, len(order))
	for _, t := range order {
		parts = append(parts, fmt.Sprintf("%s: %d", t, counts[t]))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d older items omitted (%s).", len(leftover), strings.Join(parts, ", "))
	for i, it := range leftover {
		if i == 3 {
			break
		}
		b.WriteString(" ")
		b.WriteString(firstLine(it.Content, 60))
		b.WriteString(";")
	}

	content := a.truncate(b.String(), limit)
	if content == "" {
		return ContextItem{}, false
	}
	return ContextItem{Content: content, Tier: TierLow, Type: TypeNote}, true
}

func dedupe(items []ContextItem) []ContextItem {
	seen := make(map[uint64]int, len(items))
	out := make([]ContextItem, 0, len(items))
	for _, it := range items {
		h := xxhash.Sum64String(string(it.Type) + "\x00" + it.Content)
		if idx, ok := seen[h]; ok {
			if it.Tier < out[idx].Tier {
				out[idx] = it
			}
			continue
		}
		seen[h] = len(out)
		out = append(out, it)
	}
	return out
}

func sortByPriority(items []ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Tier != items[j].Tier {
			return items[i].Tier < items[j].Tier
		}
		if items[i].Recency != items[j].Recency {
			return items[i].Recency > items[j].Recency
		}
		return items[i].Relevance > items[j].Relevance
	})
}

func prefixRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func firstLine(s string, limit int) string {
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[:nl]
	}
	if utf8.RuneCountInString(s) > limit {
		return prefixRunes(s, limit) + "..."
	}
	return s
}
