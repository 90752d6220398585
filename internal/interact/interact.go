// SPDX-License-Identifier: MIT

// Package interact defines the user-interaction and progress collaborators
// the sync core reports through.
package interact

import "context"

// Level is the severity of a message shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// UI displays messages and collects answers from the user.
type UI interface {
	// ShowMessage displays message with optional choice labels and returns
	// the selected label, or "" when the message was dismissed.
	ShowMessage(ctx context.Context, level Level, message string, choices ...string) (string, error)
	// Input asks for free text. Secret input is not echoed.
	Input(ctx context.Context, prompt string, secret bool) (string, error)
	// OpenFile opens path for manual editing.
	OpenFile(ctx context.Context, path string) error
}

// Progress receives incremental status messages. It is observational only.
type Progress interface {
	Report(message string)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(message string)

func (f ProgressFunc) Report(message string) { f(message) }

// Discard is a Progress that drops every message.
var Discard Progress = ProgressFunc(func(string) {})

// Noninteractive is a UI that never blocks: messages are dropped and every
// prompt is dismissed.
type Noninteractive struct{}

func (Noninteractive) ShowMessage(context.Context, Level, string, ...string) (string, error) {
	return "", nil
}

func (Noninteractive) Input(context.Context, string, bool) (string, error) { return "", nil }

func (Noninteractive) OpenFile(context.Context, string) error { return nil }
