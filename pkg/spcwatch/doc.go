// Package spcwatch monitors process measurements with Shewhart control
// charts. Samples recorded into a chart are checked against the eight
// Western Electric rules; new violations become actions that are logged,
// counted, pushed to the web dashboard and optionally persisted.
//
// # Quick Start
//
//	m := spcwatch.NewMonitor()
//	m.AddChart(spcwatch.ChartConfig{Name: "furnace.temp", Baseline: 25})
//	m.Start()
//	defer m.Stop()
//
//	m.Record("furnace.temp", 871.4)
//
// A chart either has fixed control limits or derives them from its first
// Baseline samples with an individuals/moving-range chart.
//
// # Alert Policies
//
// Policies run after every evaluation of every chart:
//
//	when rule3.new > 0 && trend(6) > 0 {
//		alert("${chart.name} trending up at ${chart.last}", "medium")
//	}
//
// Fields: chart.{name,last,mean,count,center,ucl,lcl,sigma,stddev},
// violations.{total,critical,high,medium,low,new}, ruleN.{count,new} and
// capability.{cp,cpk,pp,ppk,cpm,sigma_level,dpmo,yield}. The unit suffix
// "sigma" scales a number by the chart's sigma, so chart.center + 2sigma is
// the upper zone B boundary.
//
// Functions: alert(msg[, severity]), log(msg), avg(n), max(n), min(n), trend(n).
//
// # Dashboard
//
// Unless disabled with WithDashboardPort(0) the dashboard listens on
// http://localhost:9090 and serves the chart list, reports, alerts and a
// live WebSocket feed.
package spcwatch
