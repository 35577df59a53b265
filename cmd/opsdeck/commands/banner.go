package commands

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/sym"
	"github.com/teranos/opsdeck/version"
)

// printStartupBanner prints the daemon's startup summary
func printStartupBanner(cfg *am.Config, verbosity int, dbPath string, restored int) {
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	magenta := "\033[35m"
	bold := "\033[1m"
	reset := "\033[0m"

	info := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                           ║\n")
	fmt.Printf("   ║   %s%s%s opsdeck pulse                         ║\n", magenta, sym.Pulse, reset+cyan+bold)
	fmt.Printf("   ║                                           ║\n")
	fmt.Printf("   ║   %s%s%s Run  %s%s%s Schedule  %s%s%s Exec  %s%s%s Profile      ║\n",
		green, sym.Run, reset+cyan+bold, yellow, sym.Schedule, reset+cyan+bold,
		green, sym.Exec, reset+cyan+bold, yellow, sym.Profile, reset+cyan+bold)
	fmt.Printf("   ║                                           ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ Daemon ──────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:    %s (commit %s)\n", green, reset, info.Version, info.Short())
	fmt.Printf("%s│%s Verbosity:  %s\n", green, reset, logger.VerbosityToLevel(verbosity).CapitalString())
	fmt.Printf("%s│%s Database:   %s\n", green, reset, dbPath)
	fmt.Printf("%s│%s Events:     ws://127.0.0.1:%d/ws\n", green, reset, cfg.GetServerPort())
	fmt.Printf("%s│%s Schedules:  %d restored (timezone %s)\n", green, reset, restored, cfg.Scheduler.Timezone)
	fmt.Printf("%s│%s Reaper:     every %s\n", green, reset, cfg.ReaperInterval())
	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Printf("%s│%s Host memory: %s free of %s\n", green, reset, humanBytes(vm.Available), humanBytes(vm.Total))
	}
	fmt.Printf("%s└───────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s Press Ctrl+C to stop; running executions get %s to finish%s\n\n",
		yellow, sym.PulseClose, cfg.CancelGrace(), reset)
}
