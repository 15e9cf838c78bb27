package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/chat/composer"
	"github.com/psds-microservice/support-chat/internal/chat/session"
	"github.com/psds-microservice/support-chat/internal/chat/socket"
	"github.com/psds-microservice/support-chat/internal/tui"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

var chatLogFile string

var chatCmd = &cobra.Command{
	Use:   "chat <ticket-id>",
	Short: "Open the live chat of a ticket in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatLogFile, "log-file", "support-chat.log", "where the chat client writes its log")
}

func runChat(cmd *cobra.Command, args []string) error {
	ticketID, err := parseTicketID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.NewWithOutput(cfg.LogLevel, chatLogFile)
	if err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	defer log.Sync()

	cfg, client, claims, err := clientSetup(log)
	if err != nil {
		return err
	}
	sock := socket.NewManager(cfg.Client.APIURL, nil, log)
	sess := session.New(client, sock, claims.Viewer(), ticketID, client.Token(), log)
	comp := composer.New(sock, composer.DefaultMaxImageBytes, log)

	log.Info("chat start", zap.Uint64("ticket_id", ticketID), zap.Uint64("user_id", claims.UserID))
	p := tea.NewProgram(tui.New(sess, comp, sock, log), tea.WithAltScreen(), tea.WithMouseCellMotion())
	final, err := p.Run()
	sess.Teardown()
	if err != nil {
		return err
	}
	if v, ok := final.(*tui.Model); ok {
		return v.Err()
	}
	return nil
}
