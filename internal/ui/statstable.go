package ui

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/huddle-rtc/huddle/internal/room"
)

// RenderServerStats prints the server's room statistics as tables.
func RenderServerStats(title string, stats room.Stats, engine map[string]int) {
	fmt.Println()
	fmt.Println(TitleStyle.Render(title))

	summary := table.NewWriter()
	summary.SetOutputMirror(os.Stdout)
	summary.SetStyle(table.StyleRounded)
	summary.Style().Title.Align = text.AlignCenter
	summary.AppendHeader(table.Row{"Metric", "Value"})
	summary.AppendRows([]table.Row{
		{"Rooms", stats.Rooms},
		{"Participants", stats.Participants},
		{"Producers", stats.Producers},
		{"Consumers", stats.Consumers},
	})
	if engine != nil {
		summary.AppendSeparator()
		summary.AppendRows([]table.Row{
			{"Engine transports", engine["transports"]},
			{"Engine producers", engine["producers"]},
			{"Engine consumers", engine["consumers"]},
		})
	}
	summary.Render()

	if len(stats.PerRoom) == 0 {
		fmt.Println(MutedStyle.Render("No active rooms"))
		return
	}

	rooms := table.NewWriter()
	rooms.SetOutputMirror(os.Stdout)
	rooms.SetStyle(table.StyleRounded)
	rooms.AppendHeader(table.Row{"Room", "Participants", "Producers", "Consumers", "Created"})
	for _, r := range stats.PerRoom {
		rooms.AppendRow(table.Row{r.ID, r.Participants, r.Producers, r.Consumers, r.CreatedAt})
	}
	rooms.Render()
}
