package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/server"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

func newFollowCmd(flags *rootFlags) *cobra.Command {
	var (
		ticketID int64
		private  bool
		demo     bool
	)
	cmd := &cobra.Command{
		Use:     "follow <conversation-id>",
		Aliases: []string{"fw"},
		Short:   "Follow a conversation in real time and send lines from stdin",
		Long: strings.TrimSpace(`
Opens the conversation, prints its latest history and every new message as
it arrives. Each line read from stdin is sent as a message.

  /older          load the previous history page
  /private on|off toggle private messages
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || convID <= 0 {
				return fmt.Errorf("invalid conversation id %q", args[0])
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("demo") {
				cfg.Chat.DemoMode = demo
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			auth, err := flags.resolveAuth(ctx, cfg)
			if err != nil {
				return err
			}
			api, err := services.NewAPIClient(cfg.API.BaseURL, auth, apiTimeout(cfg))
			if err != nil {
				return err
			}

			conv := models.ConversationContext{ConversationID: convID}
			if cmd.Flags().Changed("ticket") {
				conv.TicketID = &ticketID
			}
			session := services.NewChatSession(auth, conv, api, services.SessionOptions{
				PageSize: cfg.Chat.PageSize,
				Timeout:  apiTimeout(cfg),
				DemoMode: cfg.Chat.DemoMode,
				Connect:  services.RealtimeConnections(server.HubOptions(cfg.Hub)),
			})
			defer session.Close()

			out := cmd.OutOrStdout()
			session.Subscribe(func(ev services.Event) { printEvent(out, ev, auth) })
			session.SetPrivate(private)
			if err := session.Open(ctx); err != nil {
				return err
			}

			lines := make(chan string)
			go readLines(cmd.InOrStdin(), lines)
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					runLine(ctx, session, line)
				}
			}
		},
	}
	cmd.Flags().Int64Var(&ticketID, "ticket", 0, "support ticket the conversation belongs to")
	cmd.Flags().BoolVar(&private, "private", false, "send messages as private")
	cmd.Flags().BoolVar(&demo, "demo", false, "append messages locally instead of sending them")
	return cmd
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// runLine executes one stdin line. Failures are already reported as notices.
func runLine(ctx context.Context, session *services.ChatSession, line string) {
	switch fields := strings.Fields(line); {
	case len(fields) == 0:
		return
	case fields[0] == "/older":
		_, _ = session.LoadOlder(ctx)
	case fields[0] == "/private" && len(fields) == 2:
		session.SetPrivate(fields[1] == "on")
	default:
		_, _ = session.Send(ctx, line)
	}
}
