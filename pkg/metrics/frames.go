// Package metrics converts execution traces and machine statistics into
// dataframes for analysis, and exports traces to Parquet for offline
// tooling.
package metrics

import (
	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/akhildatla/parvm/pkg/mem"
	"github.com/akhildatla/parvm/pkg/vm"
)

// TraceFrame builds a dataframe over an execution trace, one row per
// processor-cycle event.
func TraceFrame(events []vm.TraceEvent) *dataframe.DataFrame {
	n := len(events)
	cycles := make([]interface{}, n)
	procs := make([]interface{}, n)
	threads := make([]interface{}, n)
	pcs := make([]interface{}, n)
	texts := make([]interface{}, n)
	completed := make([]interface{}, n)
	for i, ev := range events {
		cycles[i] = int64(ev.Cycle)
		procs[i] = int64(ev.ProcessorID)
		threads[i] = int64(ev.ThreadID)
		pcs[i] = int64(ev.PC)
		texts[i] = ev.Text
		if ev.Completed {
			completed[i] = int64(1)
		} else {
			completed[i] = int64(0)
		}
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesInt64("cycle", nil, cycles...),
		dataframe.NewSeriesInt64("processor", nil, procs...),
		dataframe.NewSeriesInt64("thread", nil, threads...),
		dataframe.NewSeriesInt64("pc", nil, pcs...),
		dataframe.NewSeriesString("instruction", nil, texts...),
		dataframe.NewSeriesInt64("completed", nil, completed...),
	)
}

// UtilizationFrame builds a per-processor cycle accounting dataframe.
func UtilizationFrame(st vm.Stats) *dataframe.DataFrame {
	n := len(st.Processors)
	ids := make([]interface{}, n)
	busy := make([]interface{}, n)
	stall := make([]interface{}, n)
	idle := make([]interface{}, n)
	executed := make([]interface{}, n)
	util := make([]interface{}, n)
	for i, ps := range st.Processors {
		ids[i] = int64(i)
		busy[i] = int64(ps.BusyCycles)
		stall[i] = int64(ps.StallCycles)
		idle[i] = int64(ps.IdleCycles)
		executed[i] = int64(ps.Executed)
		util[i] = ps.Utilization()
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesInt64("processor", nil, ids...),
		dataframe.NewSeriesInt64("busy", nil, busy...),
		dataframe.NewSeriesInt64("stalled", nil, stall...),
		dataframe.NewSeriesInt64("idle", nil, idle...),
		dataframe.NewSeriesInt64("executed", nil, executed...),
		dataframe.NewSeriesFloat64("utilization", nil, util...),
	)
}

// HeatFrame builds a per-address traffic dataframe from an access pattern
// report.
func HeatFrame(report *mem.PatternReport) *dataframe.DataFrame {
	n := len(report.Profiles)
	addrs := make([]interface{}, n)
	reads := make([]interface{}, n)
	writes := make([]interface{}, n)
	threads := make([]interface{}, n)
	for i, p := range report.Profiles {
		addrs[i] = int64(p.Address)
		reads[i] = int64(p.Reads)
		writes[i] = int64(p.Writes)
		threads[i] = int64(len(p.Threads))
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesInt64("address", nil, addrs...),
		dataframe.NewSeriesInt64("reads", nil, reads...),
		dataframe.NewSeriesInt64("writes", nil, writes...),
		dataframe.NewSeriesInt64("threads", nil, threads...),
	)
}
