package team

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/roundtable/pkg/models"
)

// Condition decides whether a conversation should stop. It is evaluated after
// every appended message, the task turn included.
type Condition interface {
	// Check reports whether to stop and, if so, why.
	Check(transcript []models.Message) (stop bool, reason string)
}

type textMention struct {
	keyword string
}

// TextMention stops once the most recent message contains keyword.
// Matching is case-sensitive.
func TextMention(keyword string) Condition {
	return textMention{keyword: keyword}
}

func (t textMention) Check(transcript []models.Message) (bool, string) {
	if len(transcript) == 0 || t.keyword == "" {
		return false, ""
	}
	last := transcript[len(transcript)-1]
	if strings.Contains(last.Content, t.keyword) {
		return true, fmt.Sprintf("%s mentioned %q", last.Source, t.keyword)
	}
	return false, ""
}

type maxMessages struct {
	limit int
}

// MaxMessages stops once the transcript holds limit messages.
// A limit below one is treated as one.
func MaxMessages(limit int) Condition {
	if limit < 1 {
		limit = 1
	}
	return maxMessages{limit: limit}
}

func (m maxMessages) Check(transcript []models.Message) (bool, string) {
	if len(transcript) >= m.limit {
		return true, fmt.Sprintf("reached %d messages", m.limit)
	}
	return false, ""
}

type anyOf []Condition

// Or stops as soon as any of conds stops. The first firing condition supplies
// the reason.
func Or(conds ...Condition) Condition {
	return anyOf(conds)
}

func (a anyOf) Check(transcript []models.Message) (bool, string) {
	for _, c := range a {
		if c == nil {
			continue
		}
		if stop, reason := c.Check(transcript); stop {
			return true, reason
		}
	}
	return false, ""
}
