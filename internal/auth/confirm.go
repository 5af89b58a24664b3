package auth

import (
	"context"
	"errors"
)

// ErrConfirmCancelled is returned by a Confirmer when the user backs out.
var ErrConfirmCancelled = errors.New("auth: confirmation cancelled")

// Confirmer asks the user to confirm a claimed identity.
//
// The gate does not care how the question is shown (a form post, a CLI
// prompt, a test stub); it only needs the answer or a cancellation.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (string, error)
}

// ConfirmFunc adapts a plain function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (string, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Answer returns a Confirmer that replies with a value the user already
// submitted. A blank answer counts as cancelling.
func Answer(value string) Confirmer {
	return ConfirmFunc(func(context.Context, string) (string, error) {
		if value == "" {
			return "", ErrConfirmCancelled
		}
		return value, nil
	})
}
