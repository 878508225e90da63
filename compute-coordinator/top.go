package compute_coordinator

import (
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/embereye/docpilot/metrics"
	"github.com/logrusorgru/aurora"
	"github.com/olekukonko/tablewriter"
	"os"
	"strings"
)

type topInfo struct {
	topLines     string
	workerLines  [][]string
	counterLines [][]string
}

// buildTopString snapshots coordinator stats for the console top and the
// term-ui dashboard. Queue and worker state belongs to the control goroutine,
// so this only ever runs there; outside callers go through sampleTop.
func (c *Coordinator) buildTopString() *topInfo {
	dispatched := metrics.Get("coordinator.tasks-dispatched")
	completed := metrics.Get("coordinator.tasks-completed")
	failed := metrics.Get("coordinator.tasks-failed")

	topLines := fmt.Sprintf("Tasks dispatched: %s, completed: %s, failed: %d, active jobs: %d\n",
		aurora.BrightCyan(humanize.SIWithDigits(float64(dispatched), 2, "t")),
		humanize.SIWithDigits(float64(completed), 2, "t"),
		failed,
		c.ActiveJobs())
	topLines += fmt.Sprintf("Queued: model=%d general=%d, dispatch rate: %4.2f/s\n",
		len(c.queues[PK_Model]),
		len(c.queues[PK_General]),
		metrics.GetRate1s("coordinator.tasks-dispatched")*1e9)

	workerLines := [][]string{{"Worker", "Pool", "Idle", "Initialized", "Accelerated", "Current task"}}
	for _, poolKind := range []PoolKind{PK_Model, PK_General} {
		poolName := "model"
		if poolKind == PK_General {
			poolName = "general"
		}
		for _, handle := range c.pools[poolKind].workers {
			current := "-"
			if handle.currentTask != nil {
				current = taskKindName(handle.currentTask.Kind)
			}
			workerLines = append(workerLines, []string{
				handle.id,
				poolName,
				fmt.Sprintf("%v", handle.isIdle),
				fmt.Sprintf("%v", handle.isInitialized),
				fmt.Sprintf("%v", handle.accelerated),
				current,
			})
		}
	}

	counterLines := [][]string{{"Counter", "Value", "Rate (1s)"}}
	for _, sample := range metrics.Snapshot() {
		if !strings.HasPrefix(sample.Name, "coordinator.") && !strings.HasPrefix(sample.Name, "worker.") {
			continue
		}
		counterLines = append(counterLines, []string{
			sample.Name,
			fmt.Sprintf("%d", sample.Value),
			fmt.Sprintf("%4.4f", sample.Rate1s*1e9),
		})
	}

	return &topInfo{
		topLines:     topLines,
		workerLines:  workerLines,
		counterLines: counterLines,
	}
}

// sampleTop requests a snapshot over the command channel and waits for the
// control goroutine to build it.
func (c *Coordinator) sampleTop() *topInfo {
	reply := make(chan *topInfo, 1)
	c.commands <- &command{kind: cmdSnapshot, snapshot: reply}
	return <-reply
}

func (c *Coordinator) PrintTop() {
	info := c.sampleTop()
	fmt.Print(info.topLines)

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader(info.workerLines[0])
	for _, line := range info.workerLines[1:] {
		tw.Append(line)
	}
	tw.Render()

	tw = tablewriter.NewWriter(os.Stdout)
	tw.SetHeader(info.counterLines[0])
	for _, line := range info.counterLines[1:] {
		tw.Append(line)
	}
	tw.Render()
}
