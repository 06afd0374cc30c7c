package auth

import (
	"fmt"
	"os/exec"
	"runtime"
)

// BrowserLauncher opens the consent page.
type BrowserLauncher interface {
	OpenURL(url string) error
}

// SystemBrowser opens URLs with the platform's default browser.
type SystemBrowser struct{}

// OpenURL opens a URL in the default system browser
func (SystemBrowser) OpenURL(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := exec.Command(cmd, args...).Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
