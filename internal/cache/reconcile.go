package cache

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/model"
)

// The helpers below are pure: they never modify their inputs and return
// copies that share unchanged pages with the original. Pages are ordered
// oldest to newest, and so are the messages within a page.

type position struct {
	page  int
	index int
}

func byID(id string) func(model.Message) bool {
	return func(m model.Message) bool { return m.ID == id }
}

func byTempID(tempID string) func(model.Message) bool {
	return func(m model.Message) bool { return m.IsTemporary() && m.TempID == tempID }
}

func locate(pages [][]model.Message, match func(model.Message) bool) (position, bool) {
	for p, page := range pages {
		for i, m := range page {
			if match(m) {
				return position{p, i}, true
			}
		}
	}
	return position{}, false
}

func at(pages [][]model.Message, p position) model.Message {
	return pages[p.page][p.index]
}

func withMessage(pages [][]model.Message, p position, m model.Message) [][]model.Message {
	out := slices.Clone(pages)
	page := slices.Clone(pages[p.page])
	page[p.index] = m
	out[p.page] = page
	return out
}

func withoutMessage(pages [][]model.Message, p position) [][]model.Message {
	out := slices.Clone(pages)
	out[p.page] = slices.Delete(slices.Clone(pages[p.page]), p.index, p.index+1)
	return out
}

// withAppended adds m as the newest message, opening a new page when the
// newest one holds pageSize messages.
func withAppended(pages [][]model.Message, m model.Message, pageSize int) [][]model.Message {
	out := slices.Clone(pages)
	last := len(out) - 1
	if last < 0 || (pageSize > 0 && len(out[last]) >= pageSize) {
		return append(out, []model.Message{m})
	}
	out[last] = append(slices.Clone(out[last]), m)
	return out
}

// withInserted puts m back at p, clamping p to the current bounds.
func withInserted(pages [][]model.Message, p position, m model.Message) [][]model.Message {
	if len(pages) == 0 {
		return [][]model.Message{{m}}
	}
	out := slices.Clone(pages)
	if p.page >= len(out) {
		p.page = len(out) - 1
		p.index = len(out[p.page])
	}
	page := out[p.page]
	if p.index > len(page) {
		p.index = len(page)
	}
	out[p.page] = slices.Insert(slices.Clone(page), p.index, m)
	return out
}

// splitAt cuts pages at p. Everything from p on is returned as one page.
func splitAt(pages [][]model.Message, p position) ([][]model.Message, []model.Message) {
	if p.page >= len(pages) {
		return slices.Clone(pages), nil
	}
	head := slices.Clone(pages[:p.page])
	if p.index > 0 {
		head = append(head, slices.Clone(pages[p.page][:p.index]))
	}
	tail := slices.Clone(pages[p.page][p.index:])
	for _, page := range pages[p.page+1:] {
		tail = append(tail, page...)
	}
	return head, tail
}

func newest(pages [][]model.Message) (model.Message, bool) {
	for p := len(pages) - 1; p >= 0; p-- {
		if n := len(pages[p]); n > 0 {
			return pages[p][n-1], true
		}
	}
	return model.Message{}, false
}

func flatten(pages [][]model.Message) []model.Message {
	var out []model.Message
	for _, page := range pages {
		for _, m := range page {
			out = append(out, m.Clone())
		}
	}
	return out
}

// toggleReaction sets userID's reaction to emoji. Choosing the emoji the
// user already has, or an empty emoji, removes it.
func toggleReaction(rs []model.Reaction, userID, emoji string) []model.Reaction {
	if emoji == reactionOf(rs, userID) {
		emoji = ""
	}
	return withReaction(rs, userID, emoji)
}

// withReaction sets userID's reaction to exactly emoji; empty removes it.
func withReaction(rs []model.Reaction, userID, emoji string) []model.Reaction {
	out := make([]model.Reaction, 0, len(rs)+1)
	for _, r := range rs {
		if r.UserID != userID {
			out = append(out, r)
		}
	}
	if emoji != "" {
		out = append(out, model.Reaction{UserID: userID, Emoji: emoji})
	}
	return out
}

func reactionOf(rs []model.Reaction, userID string) string {
	for _, r := range rs {
		if r.UserID == userID {
			return r.Emoji
		}
	}
	return ""
}

// dedupeReactions keeps the last reaction per user.
func dedupeReactions(rs []model.Reaction) []model.Reaction {
	seen := make(map[string]int, len(rs))
	out := make([]model.Reaction, 0, len(rs))
	for _, r := range rs {
		if i, ok := seen[r.UserID]; ok {
			out[i] = r
			continue
		}
		seen[r.UserID] = len(out)
		out = append(out, r)
	}
	return out
}

// withMember adds or removes id so that its presence equals present.
func withMember(set []string, id string, present bool) []string {
	has := slices.Contains(set, id)
	switch {
	case present && !has:
		return append(slices.Clone(set), id)
	case !present && has:
		return slices.DeleteFunc(slices.Clone(set), func(s string) bool { return s == id })
	}
	return set
}
