package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fablink/internal/connector"
)

// codeCmd represents the code command
var codeCmd = &cobra.Command{
	Use:   "code [gcode...]",
	Short: "Execute a G-code on the machine",
	Long: `Execute a G-code on the machine and print its reply.

The arguments form one code, so quoting is optional:

  fablink code M115
  fablink code G1 X10 F3000

Without arguments an interactive console reads one code per line from
stdin until EOF. When the connection drops mid-session the console
reconnects and retries the failed code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCode(args)
	},
}

func init() {
	rootCmd.AddCommand(codeCmd)
}

func runCode(args []string) error {
	ctx := createContext()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) > 0 {
		reply, err := s.Machine.SendCode(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printReply(reply)
		return nil
	}

	fmt.Println("Interactive console, one code per line (Ctrl-D to exit).")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		code := strings.TrimSpace(scanner.Text())
		if code == "" {
			continue
		}

		reply, err := s.Machine.SendCode(ctx, code)
		if err != nil && errors.Is(err, connector.ErrDisconnected) {
			fmt.Println("Connection lost, reconnecting...")
			if rerr := s.Machine.Reconnect(ctx); rerr != nil {
				return rerr
			}
			reply, err = s.Machine.SendCode(ctx, code)
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		printReply(reply)
	}
	return scanner.Err()
}

func printReply(reply string) {
	if strings.TrimSpace(reply) == "" {
		fmt.Println("ok")
		return
	}
	fmt.Println(reply)
}
