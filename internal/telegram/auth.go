package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// Terminal asks for the login code and 2FA password on the controlling
// terminal.
type Terminal struct {
	phone   string
	in      *bufio.Reader
	out     io.Writer
	stdinFD int
}

var _ auth.UserAuthenticator = (*Terminal)(nil)

func NewTerminal(phone string) *Terminal {
	return &Terminal{
		phone:   phone,
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stderr,
		stdinFD: int(os.Stdin.Fd()),
	}
}

func (t *Terminal) Phone(context.Context) (string, error) {
	if t.phone != "" {
		return t.phone, nil
	}
	return t.prompt("Phone number: ")
}

func (t *Terminal) Password(context.Context) (string, error) {
	fmt.Fprint(t.out, "2FA password: ")
	pwd, err := term.ReadPassword(t.stdinFD)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pwd), nil
}

func (t *Terminal) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	fmt.Fprintf(t.out, "Accepting Terms of Service:\n%s\n", tos.Text)
	return nil
}

func (t *Terminal) Code(context.Context, *tg.AuthSentCode) (string, error) {
	return t.prompt("Login code: ")
}

func (t *Terminal) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up is not supported, log in with an existing account")
}

func (t *Terminal) prompt(label string) (string, error) {
	fmt.Fprint(t.out, label)
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}
