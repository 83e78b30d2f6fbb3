package utils

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// AskForPairingCode prompts on stdin until a valid pairing code is entered
// or the context is cancelled.
func AskForPairingCode(ctx context.Context) (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	inputCh := make(chan string, 1)

	for {
		fmt.Printf("Enter pairing code: ")
		go func() {
			if scanner.Scan() {
				inputCh <- strings.TrimSpace(scanner.Text())
			}
		}()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case code := <-inputCh:
			if IsValidPairingCode(code) {
				return code, nil
			}
			fmt.Printf("Invalid code. Please enter again.\n")
		}
	}
}
