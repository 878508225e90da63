package compute_coordinator

import (
	"encoding/json"
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"log"
	"time"
)

// ui renders the live dashboard: top line, worker table, counters, log tail.
// Log lines arrive over the LogChan that ConsoleInit wired into zerolog.
func (c *Coordinator) ui() {
	if err := ui.Init(); err != nil {
		log.Fatalf("failed to initialize termui: %v", err)
	}
	defer ui.Close()

	p0 := widgets.NewParagraph()
	p0.Title = "[ coordinator ]"
	p0.Text = ""
	x2, y2 := ui.TerminalDimensions()
	p0.SetRect(0, 0, x2, 4)
	p0.Border = true

	uiEvents := ui.PollEvents()
	lastLogLines := make([]string, 0, 100)
	for {
		topInfo := c.sampleTop()
		p0.Text = topInfo.topLines

		workersTable := widgets.NewTable()
		workersTable.Title = "[ docpilot compute workers ]"
		workersTable.Rows = topInfo.workerLines
		workersTable.TextStyle = ui.NewStyle(ui.ColorWhite)
		workersTable.RowSeparator = false
		workersTable.FillRow = true
		workersTable.RowStyles[0] = ui.NewStyle(ui.ColorWhite, ui.ColorBlack, ui.ModifierBold)

		countersTable := widgets.NewTable()
		countersTable.Title = "[ counters ]"
		countersTable.RowSeparator = false
		countersTable.Rows = topInfo.counterLines
		countersTable.FillRow = true
		countersTable.RowStyles[0] = ui.NewStyle(ui.ColorWhite, ui.ColorBlack, ui.ModifierBold)

		logPane := widgets.NewTable()
		logPane.Title = "[ Logs ]"
		logPane.RowSeparator = false
		logPane.ColumnWidths = []int{10, x2 - 10}
		logPane.FillRow = true
		logPane.RowStyles[0] = ui.NewStyle(ui.ColorWhite, ui.ColorBlack, ui.ModifierBold)

		logLinesToShow := make([][]string, 0)
		logLinesToShow = append(logLinesToShow, []string{"level", "message"})
		for i := len(lastLogLines) - 1; i >= 0; i-- {
			type logLine struct {
				Level   string `json:"level"`
				Message string `json:"message"`
			}
			logLineData := &logLine{}
			_ = json.Unmarshal([]byte(lastLogLines[i]), logLineData)
			logLinesToShow = append(logLinesToShow, []string{logLineData.Level, logLineData.Message})
			if len(logLinesToShow) >= ((y2/2+y2)/2)-2 {
				break
			}
		}

		logPane.Rows = logLinesToShow

		p0.SetRect(0, 0, x2, 4)
		workersEnd := 4 + len(topInfo.workerLines) + 2
		workersTable.SetRect(0, 4, x2, workersEnd)

		countersEnd := workersEnd + 2 + len(topInfo.counterLines)
		countersTable.SetRect(0, workersEnd, x2, countersEnd)
		logPane.SetRect(0, countersEnd, x2, y2)

		ui.Render(p0, workersTable, countersTable, logPane)

		timer := time.NewTimer(100 * time.Millisecond)
		select {
		case <-timer.C:
		case logLine := <-c.settings.LogChan:
			lastLogLines = append(lastLogLines, string(logLine))
			if len(lastLogLines) > 100 {
				lastLogLines = lastLogLines[1:]
			}
		case e := <-uiEvents:
			if e.Type == ui.ResizeEvent {
				x2, y2 = e.Payload.(ui.Resize).Width, e.Payload.(ui.Resize).Height
			}
			switch e.ID {
			case "q", "<C-c>":
				return
			}
		}
	}
}
