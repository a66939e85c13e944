// Package monitor renders a live terminal view of a running hub by polling
// its stats endpoint.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/diagramhub/collab-service/internal/domain/model"
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
)

const (
	StatsPath = "/api/v1/collab/stats"

	historySize = 120
	maxRoomRows = 50
)

// Fetcher loads hub stats from a collab-service instance.
type Fetcher struct {
	baseURL string
	client  *http.Client
}

func NewFetcher(baseURL string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (f *Fetcher) Fetch(ctx context.Context) (model.HubStats, error) {
	var stats model.HubStats

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+StatsPath, nil)
	if err != nil {
		return stats, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return stats, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("fetch stats: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

// Summary is the headline paragraph.
func Summary(stats model.HubStats, source string) string {
	return fmt.Sprintf("source:      %s\nuptime:      %s\nrooms:       %d\nconnections: %d",
		source,
		stats.Uptime.Truncate(time.Second),
		stats.TotalRooms,
		stats.TotalConnections,
	)
}

// RoomRows returns the table body, busiest rooms first.
func RoomRows(stats model.HubStats) [][]string {
	rooms := append([]model.RoomStats(nil), stats.Rooms...)
	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].Members != rooms[j].Members {
			return rooms[i].Members > rooms[j].Members
		}
		return rooms[i].DiagramID < rooms[j].DiagramID
	})
	if len(rooms) > maxRoomRows {
		rooms = rooms[:maxRoomRows]
	}

	rows := make([][]string, 0, len(rooms)+1)
	rows = append(rows, []string{"diagram", "members"})
	for _, r := range rooms {
		rows = append(rows, []string{r.DiagramID, fmt.Sprint(r.Members)})
	}
	return rows
}

// Run draws the dashboard until ctx ends or the user presses q.
func Run(ctx context.Context, f *Fetcher, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("terminal init: %w", err)
	}
	defer ui.Close()

	summary := widgets.NewParagraph()
	summary.Title = " collab-service "

	spark := widgets.NewSparkline()
	spark.LineColor = ui.ColorCyan
	sparkGroup := widgets.NewSparklineGroup(spark)
	sparkGroup.Title = " connections "

	table := widgets.NewTable()
	table.Title = " rooms "
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false

	layout := func() {
		w, h := ui.TerminalDimensions()
		summary.SetRect(0, 0, w/2, 6)
		sparkGroup.SetRect(w/2, 0, w, 6)
		table.SetRect(0, 6, w, h)
	}
	layout()

	history := make([]float64, 0, historySize)
	refresh := func() {
		stats, err := f.Fetch(ctx)
		if err != nil {
			summary.Text = fmt.Sprintf("source: %s\n[error](fg:red) %v", f.baseURL, err)
		} else {
			summary.Text = Summary(stats, f.baseURL)
			table.Rows = RoomRows(stats)
			history = append(history, float64(stats.TotalConnections))
			if len(history) > historySize {
				history = history[len(history)-historySize:]
			}
			spark.Data = history
		}
		ui.Render(summary, sparkGroup, table)
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				ui.Clear()
				layout()
				ui.Render(summary, sparkGroup, table)
			}
		case <-ticker.C:
			refresh()
		}
	}
}
