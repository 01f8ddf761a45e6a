package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/directorio/directorio/go/internal/relay/events"
)

// NewStateCmd prints the relay's last known timer state for a room.
func NewStateCmd(deps *Dependencies) *cobra.Command {
	var room, base string

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the relay's last timer state for a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := strings.TrimRight(base, "/") + "/api/rooms/" + url.PathEscape(room) + "/state"
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(u)
			if err != nil {
				return fmt.Errorf("fetch room state: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return fmt.Errorf("no state for room %q", room)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("fetch room state: unexpected status %d", resp.StatusCode)
			}

			var st struct {
				Room      string                    `json:"room"`
				State     events.TimerStateEnvelope `json:"state"`
				UpdatedAt time.Time                 `json:"updated_at"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
				return fmt.Errorf("decode room state: %w", err)
			}

			snap := st.State.Snapshot()
			f := NewFormatter(cmd.OutOrStdout())
			f.Info(fmt.Sprintf("room %s, updated %s", st.Room, st.UpdatedAt.Format(time.RFC3339)))
			fmt.Fprintln(cmd.OutOrStdout(), Line(snap, snap.Status(), "", true))
			return nil
		},
	}

	cmd.Flags().StringVarP(&room, "room", "r", "default", "Room id")
	cmd.Flags().StringVar(&base, "relay-http", httpBase(deps.Config.Relay.URL), "Relay HTTP base URL")

	return cmd
}

// httpBase derives http://host from a ws://host/... relay URL.
func httpBase(wsURL string) string {
	if wsURL == "" {
		wsURL = os.Getenv("RELAY_URL")
	}
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://localhost:8081"
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	return u.Scheme + "://" + u.Host
}
