package rocforge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type stageLog struct {
	path    string
	content string
}

var (
	monApp          *tview.Application
	monLogs         []stageLog
	monActiveIdx    int
	monPrevIdx      int
	monHeaderBox    *tview.TextView
	monLogView      *tview.TextView
	monFooterBox    *tview.TextView
	monFlex         *tview.Flex
	monUpdateChan   chan []stageLog
	monPrevContent  map[string]string
	monShouldScroll bool
)

// runMonitor shows a live view of the current run's stage logs: one pane per
// log file, refreshed while the external build tool streams into them.
func runMonitor() int {
	monUpdateChan = make(chan []stageLog, 10)
	monPrevContent = make(map[string]string)
	monPrevIdx = -1

	monApp = tview.NewApplication()

	monHeaderBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	monHeaderBox.SetBorder(true)
	monHeaderBox.SetTitle("rocforge Build Monitor")

	// SetDynamicColors(true) enables ANSI color code support so compiler
	// diagnostics keep their colors.
	monLogView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true).
		SetChangedFunc(func() {
			monApp.Draw()
		})
	monLogView.SetBorder(true)

	monFooterBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	monFooterBox.SetBorder(true)

	monFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(monHeaderBox, 3, 0, false).
		AddItem(monLogView, 0, 1, true).
		AddItem(monFooterBox, 3, 0, false)

	monFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			monApp.Stop()
			return nil
		case tcell.KeyLeft:
			monSwitchPane(-1)
			return nil
		case tcell.KeyRight:
			monSwitchPane(1)
			return nil
		case tcell.KeyHome:
			monLogView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			monLogView.ScrollToEnd()
			return nil
		case tcell.KeyUp:
			row, _ := monLogView.GetScrollOffset()
			if row > 0 {
				monLogView.ScrollTo(row-1, 0)
			}
			return nil
		case tcell.KeyDown:
			row, _ := monLogView.GetScrollOffset()
			monLogView.ScrollTo(row+1, 0)
			return nil
		case tcell.KeyPgUp:
			row, _ := monLogView.GetScrollOffset()
			if row > 10 {
				monLogView.ScrollTo(row-10, 0)
			} else {
				monLogView.ScrollToBeginning()
			}
			return nil
		case tcell.KeyPgDn:
			row, _ := monLogView.GetScrollOffset()
			monLogView.ScrollTo(row+10, 0)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				monApp.Stop()
				return nil
			case 'h':
				monSwitchPane(-1)
				return nil
			case 'l':
				monSwitchPane(1)
				return nil
			}
		}
		return event
	})

	// Poll the log directory; the invoker streams into these files while the
	// external tool runs.
	go func() {
		ticker := time.NewTicker(400 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			logs := readStageLogs()
			select {
			case monUpdateChan <- logs:
			default:
			}
		}
	}()

	go func() {
		for logs := range monUpdateChan {
			var currentLogPath string
			if monActiveIdx < len(monLogs) {
				currentLogPath = monLogs[monActiveIdx].path
			}

			monLogs = logs

			if currentLogPath != "" {
				found := false
				for i, log := range monLogs {
					if log.path == currentLogPath {
						monActiveIdx = i
						found = true
						break
					}
				}
				if !found && monActiveIdx >= len(monLogs) && len(monLogs) > 0 {
					monActiveIdx = len(monLogs) - 1
				}
			}

			monApp.QueueUpdateDraw(func() {
				updateMonitor()
			})
		}
	}()

	monApp.SetRoot(monFlex, true).SetFocus(monLogView)

	monLogs = readStageLogs()
	if len(monLogs) > 0 {
		monActiveIdx = 0
	}
	updateMonitor()

	if err := monApp.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "monitor:", err)
		return 1
	}
	return 0
}

func monSwitchPane(delta int) {
	if len(monLogs) == 0 {
		return
	}
	monActiveIdx += delta
	if monActiveIdx < 0 {
		monActiveIdx = len(monLogs) - 1
	}
	if monActiveIdx >= len(monLogs) {
		monActiveIdx = 0
	}
	monShouldScroll = true
	updateMonitor()
}

func updateMonitor() {
	if monApp == nil || monHeaderBox == nil || monLogView == nil || monFooterBox == nil {
		return
	}

	var headerText string
	if len(monLogs) == 0 {
		headerText = "[gray]No stage logs found[white]"
	} else if monActiveIdx < len(monLogs) {
		log := monLogs[monActiveIdx]
		headerText = fmt.Sprintf("[gray]Stage Log %d/%d: %s[white]", monActiveIdx+1, len(monLogs), log.path)
	} else {
		headerText = "[gray]No active log[white]"
	}
	monHeaderBox.SetText(headerText)

	if len(monLogs) == 0 {
		monLogView.SetText("No stage log yet. Run 'rocforge build' to start a build.")
	} else if monActiveIdx < len(monLogs) {
		log := monLogs[monActiveIdx]
		prevContent, hadPrevContent := monPrevContent[log.path]

		switchedTabs := (monPrevIdx != monActiveIdx)
		if switchedTabs {
			monPrevIdx = monActiveIdx
		}

		if log.content != prevContent || switchedTabs {
			row, _ := monLogView.GetScrollOffset()

			wasAtBottom := false
			if !switchedTabs && hadPrevContent {
				monLogView.ScrollTo(row+1, 0)
				newRow, _ := monLogView.GetScrollOffset()
				wasAtBottom = (newRow == row)
				monLogView.ScrollTo(row, 0)
			}

			monLogView.Clear()
			// ANSIWriter converts ANSI escape sequences to tview color tags
			ansiWriter := tview.ANSIWriter(monLogView)
			ansiWriter.Write([]byte(log.content))

			if switchedTabs || monShouldScroll {
				monLogView.ScrollToEnd()
				monShouldScroll = false
			} else if wasAtBottom {
				monLogView.ScrollToEnd()
			} else if hadPrevContent {
				prevLines := strings.Count(prevContent, "\n")
				newLines := strings.Count(log.content, "\n")
				if newLines > prevLines {
					monLogView.ScrollTo(row+(newLines-prevLines), 0)
				} else {
					monLogView.ScrollTo(row, 0)
				}
			}

			monPrevContent[log.path] = log.content
		}
	} else {
		monLogView.SetText("")
	}

	footer := "Press 'q' or Ctrl+Q to quit | ← → (or h/l) to switch logs | ↑ ↓ to scroll | Home/End to jump"
	monFooterBox.SetText(fmt.Sprintf("[gray]%s[white]", footer))
}

// readStageLogs reads every stage log of the current run, newest first.
func readStageLogs() []stageLog {
	paths, _ := filepath.Glob(filepath.Join(logDir, "*.log"))
	if len(paths) == 0 {
		return nil
	}

	sort.Slice(paths, func(i, j int) bool {
		ai, err1 := os.Stat(paths[i])
		aj, err2 := os.Stat(paths[j])
		if err1 != nil || err2 != nil {
			return paths[i] > paths[j]
		}
		return ai.ModTime().After(aj.ModTime())
	})

	logs := make([]stageLog, 0, len(paths))
	for _, path := range paths {
		content, err := readFullFile(path)
		if err != nil {
			content = fmt.Sprintf("failed to read log: %v", err)
		}
		logs = append(logs, stageLog{path: path, content: content})
	}
	return logs
}

// readFullFile reads the entire file for infinite scrollback support
func readFullFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
