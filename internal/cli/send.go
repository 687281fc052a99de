package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/danmu/internal/danmud"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	daemonAddr    string
	daemonTimeout time.Duration
	sendStdin     bool
)

func init() {
	rootCmd.AddCommand(sendCmd)

	for _, cmd := range []*cobra.Command{sendCmd, statusCmd} {
		cmd.Flags().StringVar(&daemonAddr, "addr", "", "control API address (default daemon.host:daemon.port)")
		cmd.Flags().DurationVar(&daemonTimeout, "timeout", 10*time.Second, "request timeout")
	}
	sendCmd.Flags().BoolVar(&sendStdin, "stdin", false, "read comments from stdin, one per line")
}

var sendCmd = &cobra.Command{
	Use:   "send <comment>",
	Short: "Send a comment to a running engine",
	Long: `Send a comment to the engine started by 'danmu run', as if it had arrived
from the room feed. Comments containing the separator are queued as a
batch; anything else runs immediately and interrupts a running batch.`,
	Example: `  danmu send 翻滚
  danmu send "前进，前进，跳"
  printf '上滚\n下滚\n' | danmu send --stdin`,
	Args: func(cmd *cobra.Command, args []string) error {
		if sendStdin {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		comments := []string{strings.Join(args, " ")}
		if sendStdin {
			var err error
			if comments, err = readComments(os.Stdin); err != nil {
				return err
			}
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		type sent struct {
			Comment string `json:"comment"`
			Mode    string `json:"mode,omitempty"`
			Pending int    `json:"pending"`
			Error   string `json:"error,omitempty"`
		}
		var results []sent
		var failed int
		for _, text := range comments {
			ctx, cancel := requestContext(cmd.Context())
			res, err := client.Inject(ctx, text)
			cancel()

			entry := sent{Comment: text, Mode: res.Mode, Pending: res.Pending}
			if err != nil {
				if isUnavailable(err) {
					return daemonUnavailable(err)
				}
				entry.Error = status.Convert(err).Message()
				failed++
			}
			results = append(results, entry)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			if err := WriteOutput(os.Stdout, results); err != nil {
				return err
			}
		} else {
			for _, r := range results {
				if r.Error != "" {
					fmt.Printf("%s  %s  %s\n", colorize("ERR", styleErr), r.Comment, r.Error)
					continue
				}
				fmt.Printf("%s  %s  (%s, %d pending)\n", colorize("OK", styleOK), r.Comment, r.Mode, r.Pending)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d comments rejected", failed, len(results))
		}
		return nil
	},
}

func readComments(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("no comments on stdin")
	}
	return out, nil
}

func resolveDaemonAddr() string {
	if strings.TrimSpace(daemonAddr) != "" {
		return daemonAddr
	}
	cfg := GetConfig()
	host := cfg.Daemon.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Daemon.Port
	if port == 0 {
		port = danmud.DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func dialDaemon() (*danmud.Client, error) {
	return danmud.Dial(resolveDaemonAddr())
}

func requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if daemonTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, daemonTimeout)
}

func isUnavailable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

func daemonUnavailable(err error) error {
	return &PreflightError{
		Message:  fmt.Sprintf("engine not reachable at %s: %s", resolveDaemonAddr(), status.Convert(err).Message()),
		Hint:     "Start the engine with the control API enabled",
		NextStep: "danmu run",
	}
}
