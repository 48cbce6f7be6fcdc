package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"

	"github.com/tlsnet/tlsnet-go/pkg/ops"
)

// Client runs a Session behind a readline prompt.
type Client struct {
	session *Session
	rl      *readline.Instance
}

// New creates an interactive client for target.
func New(o *ops.Ops, target Target) (*Client, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tlsnet> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("open"),
			readline.PcItem("send"),
			readline.PcItem("recv"),
			readline.PcItem("info"),
			readline.PcItem("starttls"),
			readline.PcItem("shutdown"),
			readline.PcItem("close"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Client{session: NewSession(o, rl.Stdout(), target), rl: rl}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Client) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Client) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run connects and starts the interactive command loop.
func (c *Client) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	defer c.session.Close()

	c.session.printHelp()
	if err := c.session.Open(ctx); err != nil {
		fmt.Fprintf(c.rl.Stderr(), "Connect failed: %v\n", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		if err := c.session.Exec(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				fmt.Fprintln(c.rl.Stdout(), "Exiting...")
				cancel()
				return
			}
			fmt.Fprintf(c.rl.Stderr(), "Error: %v\n", err)
		}
	}
}
