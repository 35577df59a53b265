package runner

import "fmt"

// Lines the runner writes into an execution's output around the script's own output.
const (
	BannerStarting           = "[SYSTEM] Starting script execution...\n"
	BannerCancelRequested    = "\n[SYSTEM] Cancellation requested by user - terminating process..."
	BannerProcessTerminated  = "\n[SYSTEM] Process terminated successfully."
	BannerTerminatedByUser   = "\n[SYSTEM] Script execution was terminated by user"
	BannerCompletedOK        = "\n[SYSTEM] Script execution completed successfully"
	InputEchoPrefix          = "[INPUT]: "
	bannerTerminatedBySignal = "\n[SYSTEM] Script execution was terminated unexpectedly (signal %d)"
	bannerFailedWithCode     = "\n[SYSTEM] Script execution failed with return code %d"
	bannerError              = "\n[SYSTEM] Error running script: %s"
)

// BannerSignal reports a death by signal nobody asked for.
func BannerSignal(sig int) string {
	return fmt.Sprintf(bannerTerminatedBySignal, sig)
}

// BannerExitCode reports a non-zero exit.
func BannerExitCode(code int) string {
	return fmt.Sprintf(bannerFailedWithCode, code)
}

// BannerError reports a failure of the runner itself.
func BannerError(msg string) string {
	return fmt.Sprintf(bannerError, msg)
}
