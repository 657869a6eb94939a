// Package process supervises a single helper daemon (wpa_supplicant) for
// the network link layer.
//
// Features:
//   - Start/stop with SIGTERM then SIGKILL on the whole process group
//   - Unexpected exits reported through Config.OnExit
//   - Log capture from subprocess stdout/stderr, line by line
//
// The manager never restarts a process on its own. Restart policy belongs
// to the lifecycle controller, which sees an exit as a link drop.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:   "wpa_supplicant",
//	    Binary: "/usr/sbin/wpa_supplicant",
//	    Args:   []string{"-i", "wlan0", "-c", "/run/linklight/wpa.conf"},
//	    OnExit: func(err error) { drops <- err },
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
