package paths

import (
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	appName = "rockcraft"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644

	// Project directory as seen from inside an isolated instance.
	ManagedProjectDir = "/root/project"

	// Working directory root inside an isolated instance.
	ManagedHome = "/root"

	// Location of the executable inside an isolated instance.
	ManagedExecutable = "/usr/local/bin/rockcraft"

	// Log file written by the tool when running inside an instance.
	ManagedLogFile = "/tmp/rockcraft.log"
)

// Path to the state directory.
//
//	Linux:   $XDG_STATE_HOME/rockcraft or ~/.local/state/rockcraft
//	macOS:   ~/Library/Application Support/rockcraft
func State() string {
	return filepath.Join(xdg.StateHome, appName)
}

// Directory holding logs captured from isolated instances.
func LogDir() string {
	return filepath.Join(State(), "log")
}

// Returns a timestamped log file path inside [LogDir].
func LogFile(t time.Time) string {
	return filepath.Join(LogDir(), appName+"-"+t.UTC().Format("20060102-150405.000000")+".log")
}
