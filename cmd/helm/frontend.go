package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/helm/core/pkg/approval"
)

// cliFrontend is the bounded CLI's approval.Frontend: it prints the pending
// request to out and reads a single-line decision from in. It is
// deliberately minimal -- the specification treats rich frontends (TUI,
// Telegram, Discord) as out-of-scope callers of the same interface.
type cliFrontend struct {
	out io.Writer
	in  io.Reader
}

func (f *cliFrontend) RequestApproval(ctx context.Context, req approval.Request) (approval.Decision, error) {
	fmt.Fprintf(f.out, "\napproval requested: %s (risk=%s)\n", req.Action.Summary(), req.Risk)
	fmt.Fprintf(f.out, "options: %s\n", optionList(req.AvailableOptions))
	fmt.Fprint(f.out, "decision> ")

	scanner := bufio.NewScanner(f.in)
	if !scanner.Scan() {
		return approval.Decision{Option: approval.Deny, Reason: "no input"}, scanner.Err()
	}
	choice := strings.TrimSpace(scanner.Text())

	for _, opt := range req.AvailableOptions {
		if string(opt) == choice {
			return approval.Decision{Option: opt}, nil
		}
	}
	return approval.Decision{Option: approval.Deny, Reason: "unrecognized input: " + choice}, nil
}

func (f *cliFrontend) ShowStatus(message string) {
	fmt.Fprintf(f.out, "status: %s\n", message)
}

func (f *cliFrontend) ShowError(message string) {
	fmt.Fprintf(f.out, "error: %s\n", message)
}

func optionList(opts []approval.Option) string {
	parts := make([]string, len(opts))
	for i, o := range opts {
		parts[i] = string(o)
	}
	return strings.Join(parts, ", ")
}
