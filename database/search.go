package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// FindChats fuzzy-matches query against chat names and ids, best matches first.
func (s *ChatStore) FindChats(ctx context.Context, query string) ([]Chat, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []Chat{}, nil
	}

	var chats []Chat
	if err := s.db.WithContext(ctx).Order(chatListOrder).Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("failed to load chats for search: %w", err)
	}

	var (
		searchSpace []string
		owners      []int
	)
	for i, chat := range chats {
		if chat.Name != "" {
			searchSpace = append(searchSpace, strings.ToLower(chat.Name))
			owners = append(owners, i)
		}
		searchSpace = append(searchSpace, strings.ToLower(chat.ID))
		owners = append(owners, i)
	}

	ranks := fuzzy.RankFind(query, searchSpace)
	sort.Stable(ranks)

	var (
		results = []Chat{}
		seen    = make(map[int]bool)
	)
	for _, rank := range ranks {
		idx := owners[rank.OriginalIndex]
		if seen[idx] {
			continue
		}
		seen[idx] = true
		results = append(results, chats[idx])
	}

	return results, nil
}
