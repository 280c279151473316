package team

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/roundtable/internal/agent"
	"github.com/ShayCichocki/roundtable/internal/model"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// SpeakerSelection chooses who speaks next.
type SpeakerSelection int

const (
	// RoundRobin cycles through the participants in order.
	RoundRobin SpeakerSelection = iota
	// ModelSelector asks a model to name the next speaker.
	ModelSelector
)

func (s SpeakerSelection) String() string {
	switch s {
	case RoundRobin:
		return "round_robin"
	case ModelSelector:
		return "selector"
	default:
		return fmt.Sprintf("SpeakerSelection(%d)", int(s))
	}
}

// ParseSpeakerSelection maps "round_robin" and "selector" to a SpeakerSelection.
func ParseSpeakerSelection(s string) (SpeakerSelection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "round_robin", "roundrobin", "round-robin":
		return RoundRobin, nil
	case "selector", "model":
		return ModelSelector, nil
	default:
		return RoundRobin, fmt.Errorf("unknown speaker selection %q", s)
	}
}

// selectorHistory is how many recent messages the selector model sees.
const selectorHistory = 6

const selectorPrompt = `You are coordinating a research team. The participants are:
%s

Read the conversation and select who should speak next. Researchers gather
information, analysts interpret it, writers draft the document and critics review it.
Only return the name of the participant.`

// speakerPicker holds the turn order state of one run.
type speakerPicker struct {
	mode     SpeakerSelection
	roster   []*agent.Agent
	endpoint model.Endpoint
	last     int
}

func newSpeakerPicker(mode SpeakerSelection, roster []*agent.Agent, ep model.Endpoint) *speakerPicker {
	return &speakerPicker{mode: mode, roster: roster, endpoint: ep, last: -1}
}

// next returns the index of the next speaker. The first speaker is always the
// first participant. Under ModelSelector a selector error or an unusable answer
// falls back to round robin order.
func (p *speakerPicker) next(ctx context.Context, history []models.Message) (int, error) {
	idx := (p.last + 1) % len(p.roster)
	if p.mode == ModelSelector && p.last >= 0 && len(p.roster) > 1 && p.endpoint != nil {
		picked, err := p.ask(ctx, history)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
		} else if picked >= 0 && picked != p.last {
			idx = picked
		}
	}
	p.last = idx
	return idx, nil
}

func (p *speakerPicker) ask(ctx context.Context, history []models.Message) (int, error) {
	var roles strings.Builder
	for _, a := range p.roster {
		fmt.Fprintf(&roles, "- %s: %s\n", a.Name(), a.Description())
	}

	if len(history) > selectorHistory {
		history = history[len(history)-selectorHistory:]
	}
	var convo strings.Builder
	for _, m := range history {
		fmt.Fprintf(&convo, "[%s]: %s\n\n", m.Source, m.Content)
	}

	resp, err := p.endpoint.Complete(ctx, model.Request{
		System:  fmt.Sprintf(selectorPrompt, strings.TrimRight(roles.String(), "\n")),
		History: []model.Turn{{Role: model.TurnUser, Content: convo.String()}},
	})
	if err != nil {
		return -1, err
	}
	return parseSpeaker(resp.Text, p.roster), nil
}

// parseSpeaker finds the participant named in answer: an exact name first,
// then the only name contained in the text. It returns -1 otherwise.
func parseSpeaker(answer string, roster []*agent.Agent) int {
	clean := strings.ToLower(strings.Trim(strings.TrimSpace(answer), "\"'`.*[]:"))
	for i, a := range roster {
		if clean == strings.ToLower(a.Name()) {
			return i
		}
	}

	found := -1
	for i, a := range roster {
		if strings.Contains(clean, strings.ToLower(a.Name())) {
			if found >= 0 {
				return -1
			}
			found = i
		}
	}
	return found
}
