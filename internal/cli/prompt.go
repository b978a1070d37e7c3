package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rescale/upsess/internal/fsref"
	inthttp "github.com/rescale/upsess/internal/http"
	"github.com/rescale/upsess/internal/localfs"
)

// terminalPrompter asks a y/N question for every local read request.
type terminalPrompter struct {
	reader *bufio.Reader
	out    io.Writer
}

// newPrompter picks the prompter for this run. --yes grants everything; a
// stdin that is not a terminal refuses everything so scripts never hang.
func newPrompter(yes bool, in io.Reader, out io.Writer) localfs.Prompter {
	if yes {
		return localfs.AllowAll
	}
	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return localfs.DenyAll
	}
	return &terminalPrompter{reader: bufio.NewReader(in), out: out}
}

// Confirm prints the question and reads one line.
func (p *terminalPrompter) Confirm(ctx context.Context, d fsref.Descriptor) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	noun := "file"
	if d.Kind == fsref.KindDirectory {
		noun = "folder"
	}
	fmt.Fprintf(p.out, "Allow read access to %s '%s'? [y/N]: ", noun, d.Location)

	input, err := p.reader.ReadString('\n')
	if err != nil && input == "" {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// ensureProxyPassword asks for the proxy password when the config names a
// basic or ntlm proxy user without one. A terminal reads it without echo; a
// non-terminal file is never read so piped input stays intact.
func (a *app) ensureProxyPassword(out io.Writer) {
	if !inthttp.NeedsProxyPassword(a.cfg.Proxy) {
		return
	}

	if f, ok := a.in.(*os.File); ok {
		if !term.IsTerminal(int(f.Fd())) {
			a.logger.Warn().Str("user", a.cfg.Proxy.User).Msg("Proxy password not configured and stdin is not a terminal")
			return
		}
		fmt.Fprintf(out, "Proxy password for %s: ", a.cfg.Proxy.User)
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Failed to read proxy password")
			return
		}
		a.cfg.Proxy.Password = string(pw)
		return
	}

	// Share one buffered reader with the access prompter.
	reader := bufio.NewReader(a.in)
	a.in = reader
	fmt.Fprintf(out, "Proxy password for %s: ", a.cfg.Proxy.User)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		a.logger.Warn().Err(err).Msg("Failed to read proxy password")
		return
	}
	a.cfg.Proxy.Password = strings.TrimRight(line, "\r\n")
}
