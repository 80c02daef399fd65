package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"gomeet/internal/client"
	"gomeet/internal/logging"
	"gomeet/internal/ui"
)

var flagServer string

var joinCmd = &cobra.Command{
	Use:     "join [room-id]",
	Aliases: []string{"j"},
	Short:   "Join a conference room",
	Long: `Join a conference room, creating it implicitly if nobody is there yet.

Examples:
  gomeet join otter-taco-ember-cozy
  gomeet join                                  (generates a fresh room id)
  gomeet join --server ws://meet.example.com/ws otter-taco-ember-cozy`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := ""
		if len(args) == 1 {
			roomID = args[0]
		}
		return joinRoom(roomID)
	},
}

func joinRoom(roomID string) error {
	logger := logging.New()

	if roomID == "" {
		roomID = client.RandomRoomID()
		ui.PrintInfof("No room id given, using a fresh one: %s", roomID)
	}

	stopSpinner := ui.RunSpinner("Connecting to signaling server...")
	sig, err := client.DialSignal(flagServer, logger)
	stopSpinner()
	if err != nil {
		return err
	}

	ctrl := client.NewController(sig, client.NewStaticDevice(), logger)
	ctrl.OnRosterChange(func(flows []client.RemoteFlow) {
		rows := make([]ui.FlowRow, 0, len(flows))
		for _, f := range flows {
			rows = append(rows, ui.FlowRow{
				PeerID:     f.PeerID,
				Kind:       string(f.Kind),
				ProducerID: f.ProducerID,
			})
		}
		ui.RenderRoster(rows)
	})

	stopSpinner = ui.RunSpinner("Joining room...")
	err = ctrl.Join(roomID)
	stopSpinner()
	if err != nil {
		sig.Close()
		return fmt.Errorf("join failed: %w", err)
	}

	fmt.Println(ui.RoomBanner(roomID))
	ui.PrintInfo("Press Ctrl+C to leave.")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt

	ctrl.Leave()
	ui.PrintSuccess("Left the room.")
	return nil
}

func init() {
	joinCmd.Flags().StringVar(&flagServer, "server", defaultServerURL(), "signaling server websocket URL")
	rootCmd.AddCommand(joinCmd)
}

func defaultServerURL() string {
	if v := os.Getenv("GOMEET_SERVER"); v != "" {
		return v
	}
	return "ws://localhost:4000/ws"
}
