package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skippybot/skippy/internal/config"
	"github.com/skippybot/skippy/internal/ipc"
)

var (
	sendChannel string
	sendUser    string
	sendModel   string
	sendOutput  string
	sendContext string
)

var sendCmd = &cobra.Command{
	Use:   "send [prompt...]",
	Short: "Run a prompt through the running daemon",
	Long: "Sends a prompt to the daemon over its local socket and streams\n" +
		"the result. With --output chat the answer is delivered to a\n" +
		"Discord channel instead of stdout.",
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendChannel, "channel", "", "Channel the chain is attributed to (required for --output chat)")
	sendCmd.Flags().StringVar(&sendUser, "user", "", "User the prompt is attributed to")
	sendCmd.Flags().StringVar(&sendModel, "model", "", "Model override for this prompt")
	sendCmd.Flags().StringVar(&sendOutput, "output", "stdout", "Where the answer goes: stdout or chat")
	sendCmd.Flags().StringVar(&sendContext, "context", "", "Extra context injected into the prompt")
}

func runSend(cmd *cobra.Command, args []string) error {
	socketPath, err := config.SocketPath()
	if err != nil {
		return err
	}
	req := ipc.Request{
		Type:    "prompt",
		Prompt:  strings.Join(args, " "),
		Output:  sendOutput,
		Channel: sendChannel,
		User:    sendUser,
		Model:   sendModel,
		Context: sendContext,
	}
	return ipc.Do(socketPath, req, func(f ipc.Frame) {
		switch f.Type {
		case "status":
			fmt.Fprintln(os.Stderr, color.HiBlackString("• %s", f.Message))
		case "chunk":
			fmt.Print(f.Content)
		case "done":
			if f.Content != "" {
				fmt.Println(color.GreenString(f.Content))
			} else {
				fmt.Println()
			}
		}
	})
}

var messageCmd = &cobra.Command{
	Use:   "message <channel> <text...>",
	Short: "Post a message to a Discord channel via the daemon",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		socketPath, err := config.SocketPath()
		if err != nil {
			return err
		}
		return ipc.Do(socketPath, ipc.Request{
			Type:    "message",
			Channel: args[0],
			Message: strings.Join(args[1:], " "),
		}, nil)
	},
}
