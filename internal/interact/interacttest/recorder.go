// SPDX-License-Identifier: MIT

// Package interacttest provides a scripted interact.UI for tests.
package interacttest

import (
	"context"
	"strings"
	"sync"

	"github.com/skaphos/forkkeeper/internal/interact"
)

// Message is one ShowMessage call.
type Message struct {
	Level   interact.Level
	Text    string
	Choices []string
}

// Recorder records every interaction and answers from scripted queues.
type Recorder struct {
	mu sync.Mutex

	// Answers are returned by successive ShowMessage calls that offer
	// choices. When exhausted the prompt is dismissed.
	Answers []string
	// Inputs are returned by successive Input calls.
	Inputs []string
	// OnPrompt, when set, runs for every message that offers choices,
	// before the answer is taken.
	OnPrompt func(Message)

	Messages []Message
	Prompts  []string
	Opened   []string
	Progress []string
}

var _ interact.UI = (*Recorder)(nil)

func (r *Recorder) ShowMessage(_ context.Context, level interact.Level, message string, choices ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := Message{Level: level, Text: message, Choices: choices}
	r.Messages = append(r.Messages, msg)
	if len(choices) > 0 && r.OnPrompt != nil {
		r.OnPrompt(msg)
	}
	if len(choices) == 0 || len(r.Answers) == 0 {
		return "", nil
	}
	answer := r.Answers[0]
	r.Answers = r.Answers[1:]
	return answer, nil
}

func (r *Recorder) Input(_ context.Context, prompt string, _ bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Prompts = append(r.Prompts, prompt)
	if len(r.Inputs) == 0 {
		return "", nil
	}
	in := r.Inputs[0]
	r.Inputs = r.Inputs[1:]
	return in, nil
}

func (r *Recorder) OpenFile(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Opened = append(r.Opened, path)
	return nil
}

// Report implements interact.Progress.
func (r *Recorder) Report(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Progress = append(r.Progress, message)
}

// Count returns the number of messages at level.
func (r *Recorder) Count(level interact.Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.Messages {
		if m.Level == level {
			n++
		}
	}
	return n
}

// Contains reports whether any message at level contains substr.
func (r *Recorder) Contains(level interact.Level, substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.Messages {
		if m.Level == level && strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}

// Prompted reports whether any message offered choices.
func (r *Recorder) Prompted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.Messages {
		if len(m.Choices) > 0 {
			return true
		}
	}
	return false
}
