package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// FlowRow is one remote track in the roster view.
type FlowRow struct {
	PeerID     string
	Kind       string
	ProducerID string
}

// RosterView renders the remote flows the session currently receives.
func RosterView(rows []FlowRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No one else in the room yet")
	}

	headers := []string{"Peer", "Kind", "Producer"}
	var cells [][]string
	for _, r := range rows {
		kind := r.Kind
		switch kind {
		case "video":
			kind = IconVideo + " video"
		case "audio":
			kind = IconAudio + " audio"
		}
		cells = append(cells, []string{truncate(r.PeerID, 12), kind, truncate(r.ProducerID, 12)})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RenderRoster prints the roster table to stdout.
func RenderRoster(rows []FlowRow) {
	fmt.Println(RosterView(rows))
}

// RoomBanner renders the joined-room box with the id to share.
func RoomBanner(roomID string) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Joined room\n\n%s Room ID:  %s\n\nShare the id so others can join.",
		IconRoom,
		IconCopy, BoldStyle.Foreground(Primary).Render(roomID),
	)

	return boxStyle.Render(content)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
