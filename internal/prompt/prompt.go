// Package prompt asks the user to confirm destructive actions.
package prompt

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// ErrNotInteractive is returned when a confirmation is needed but stdin is
// not a terminal. Callers tell the user to pass --yes instead.
var ErrNotInteractive = errors.New("confirmation required but stdin is not a terminal (use --yes)")

// ErrDeclined is returned by Guard when the user answers no.
var ErrDeclined = errors.New("cancelled")

// Confirmer asks a yes/no question.
type Confirmer func(title, description string) (bool, error)

// IsInteractive reports whether stdin and stdout are terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Confirm shows a huh confirmation defaulting to "no".
func Confirm(title, description string) (bool, error) {
	if !IsInteractive() {
		return false, ErrNotInteractive
	}
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

// Guard returns nil when the action may proceed: assumeYes is set, or ask
// confirms. A declined confirmation returns ErrDeclined.
func Guard(assumeYes bool, ask Confirmer, title, description string) error {
	if assumeYes {
		return nil
	}
	if ask == nil {
		ask = Confirm
	}
	ok, err := ask(title, description)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}
