// Package chat defines the Chatter interface for text conversations with a
// language model.
//
// A chat request is a single round trip: the caller sends the user's latest
// message, optionally preceded by earlier turns, and receives the model's
// complete reply as text.
//
// Implementations must be safe for concurrent use.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultInstructions is the system instruction used when none is configured.
const DefaultInstructions = "You are Nova AI, a professional, creative, and highly intelligent AI assistant. " +
	"Your goal is to provide concise yet deeply insightful answers. " +
	"Format your output using Markdown for better readability."

// Canned replies shown in place of a model answer.
const (
	// Greeting opens a new conversation.
	Greeting = "Hello! I'm Nova AI. How can I assist you with your creative projects today?"

	// EmptyReply stands in for an answer that contained no text.
	EmptyReply = "I'm sorry, I couldn't generate a response."

	// FailureReply stands in for an answer that could not be obtained.
	FailureReply = "I encountered an error while processing your request. Please try again."
)

// Message roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

var (
	// ErrEmptyText is returned when a request carries no text.
	ErrEmptyText = errors.New("chat: empty text")

	// ErrInvalidHistory is returned when an earlier turn has an unknown role
	// or no text.
	ErrInvalidHistory = errors.New("chat: invalid history")

	// ErrNoText is returned when the backend answered without text.
	ErrNoText = errors.New("chat: response contained no text")
)

// Message is one earlier turn of the conversation.
type Message struct {
	// Role is [RoleUser] or [RoleModel].
	Role string `json:"role"`

	// Text is the content of the turn.
	Text string `json:"text"`
}

// Request is a single chat request.
type Request struct {
	// Text is the user's new message. Must not be blank.
	Text string

	// History holds earlier turns, oldest first.
	History []Message

	// Instructions is the system instruction. Empty selects the backend
	// default.
	Instructions string
}

// Validate reports whether req can be sent. It returns [ErrEmptyText] or a
// wrapped [ErrInvalidHistory].
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	for i, m := range r.History {
		if m.Role != RoleUser && m.Role != RoleModel {
			return fmt.Errorf("%w: history[%d] has role %q", ErrInvalidHistory, i, m.Role)
		}
		if strings.TrimSpace(m.Text) == "" {
			return fmt.Errorf("%w: history[%d] is empty", ErrInvalidHistory, i)
		}
	}
	return nil
}

// InstructionsOr returns r.Instructions, or def when they are empty.
func (r Request) InstructionsOr(def string) string {
	if r.Instructions != "" {
		return r.Instructions
	}
	return def
}

// Response is the model's reply.
type Response struct {
	// Text is the reply, usually Markdown.
	Text string
}

// Chatter answers chat requests.
type Chatter interface {
	// Reply answers req. It returns [ErrEmptyText] or [ErrInvalidHistory] for
	// rejected requests, [ErrNoText] for an empty answer, or a wrapped
	// transport error.
	Reply(ctx context.Context, req Request) (Response, error)
}
