package prompt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard_AssumeYesSkipsPrompt(t *testing.T) {
	called := false
	ask := func(string, string) (bool, error) { called = true; return false, nil }

	assert.NoError(t, Guard(true, ask, "Clear?", ""))
	assert.False(t, called)
}

func TestGuard_Answers(t *testing.T) {
	yes := func(string, string) (bool, error) { return true, nil }
	no := func(string, string) (bool, error) { return false, nil }
	boom := errors.New("tty gone")
	broken := func(string, string) (bool, error) { return false, boom }

	assert.NoError(t, Guard(false, yes, "Clear?", ""))
	assert.ErrorIs(t, Guard(false, no, "Clear?", ""), ErrDeclined)
	assert.ErrorIs(t, Guard(false, broken, "Clear?", ""), boom)
}

func TestGuard_PassesTitle(t *testing.T) {
	var gotTitle, gotDesc string
	ask := func(title, desc string) (bool, error) {
		gotTitle, gotDesc = title, desc
		return true, nil
	}
	assert.NoError(t, Guard(false, ask, "Delete local data?", "12 records"))
	assert.Equal(t, "Delete local data?", gotTitle)
	assert.Equal(t, "12 records", gotDesc)
}

func TestConfirm_NotInteractiveUnderTest(t *testing.T) {
	if IsInteractive() {
		t.Skip("running attached to a terminal")
	}
	ok, err := Confirm("Clear?", "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotInteractive)
}
